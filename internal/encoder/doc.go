// Package encoder provides record encoding to archive file formats.
//
// This package implements encoders for converting buffered telemetry records
// into files suitable for object storage and analytics, with configurable
// compression.
//
// # Supported Formats
//
// The package supports three archive formats:
//
//   - NDJSON: Newline-delimited JSON, the re-ingestable default
//   - Parquet: Columnar format optimized for analytics and Athena queries
//   - Avro: Row-based format with embedded schema
//
// # Encoder Factory
//
// Use Factory to create encoder instances:
//
//	factory := encoder.NewFactory(event.FormatNDJSON, "gzip")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Encoding Records
//
// All encoders implement the pkg/encoder.Encoder interface:
//
//	stats, err := enc.Encode(filePath, records)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Encoded %d records, %d bytes\n",
//	    stats.RecordCount, stats.SizeBytes)
//
// # Row Shape
//
// Payloads are opaque to the pipeline, so the structured formats carry each
// payload as a string column next to the buffer sequence number and the
// archive timestamp. NDJSON emits JSON payloads verbatim, one per line, and
// wraps non-JSON payloads under a "message" key.
//
// # Compression Options
//
// Supported compression codecs:
//
//	NDJSON:  "gzip", "lz4", "none"
//	Parquet: "snappy", "gzip", "lz4", "zstd", "none"
//	Avro:    "gzip", "none"
//
// # File Extensions
//
// Encoders provide appropriate file extensions:
//
//	ndjsonEnc.FileExtension()   // ".ndjson.gz" (with gzip)
//	parquetEnc.FileExtension()  // ".parquet"
//	avroEnc.FileExtension()     // ".avro.gz" (with gzip)
//
// # Thread Safety
//
// Encoder instances are safe for concurrent use. Factory.CreateEncoder()
// creates independent encoder instances.
package encoder
