package buffer_test

import (
	"context"
	"fmt"
	"os"

	"github.com/telepipe/telepipe/internal/buffer"
)

func Example_memoryQueue() {
	q, err := buffer.New("access-logs", buffer.Config{
		Type:   buffer.TypeMemory,
		Memory: buffer.MemoryConfig{MaxEvents: 100},
	}, nil, nil)
	if err != nil {
		fmt.Println("Error creating buffer:", err)
		return
	}
	defer q.Close()

	ctx := context.Background()
	for _, line := range []string{"GET /healthz 200", "POST /orders 201"} {
		seq, err := q.Enqueue(ctx, []byte(line))
		if err != nil {
			fmt.Println("Error enqueueing:", err)
			return
		}
		fmt.Printf("enqueued %d\n", seq)
	}

	for i := 0; i < 2; i++ {
		rec, err := q.Dequeue(ctx)
		if err != nil {
			fmt.Println("Error dequeueing:", err)
			return
		}
		fmt.Printf("delivered %d: %s\n", rec.Sequence, rec.Payload)
		q.Ack(rec.Sequence)
	}
	fmt.Println("watermark:", q.Watermark())

	// Output:
	// enqueued 1
	// enqueued 2
	// delivered 1: GET /healthz 200
	// delivered 2: POST /orders 201
	// watermark: 2
}

func Example_diskQueueRedelivery() {
	dir, err := os.MkdirTemp("", "buffer-example")
	if err != nil {
		fmt.Println("Error creating directory:", err)
		return
	}
	defer os.RemoveAll(dir)

	cfg := buffer.Config{
		Type: buffer.TypeDisk,
		Disk: buffer.DiskConfig{Dir: dir, MaxSizeBytes: 1 << 20},
	}

	ctx := context.Background()
	q, err := buffer.New("archive", cfg, nil, nil)
	if err != nil {
		fmt.Println("Error opening buffer:", err)
		return
	}
	for _, line := range []string{"delivered downstream", "lost in flight"} {
		if _, err := q.Enqueue(ctx, []byte(line)); err != nil {
			fmt.Println("Error enqueueing:", err)
			return
		}
	}

	// The first record is confirmed downstream, the second is not.
	rec, _ := q.Dequeue(ctx)
	q.Ack(rec.Sequence)
	rec, _ = q.Dequeue(ctx)
	fmt.Printf("in flight: %d %s\n", rec.Sequence, rec.Payload)
	q.Close()

	// After a restart the unacknowledged record is delivered again.
	q, err = buffer.New("archive", cfg, nil, nil)
	if err != nil {
		fmt.Println("Error reopening buffer:", err)
		return
	}
	defer q.Close()
	rec, _ = q.Dequeue(ctx)
	fmt.Printf("redelivered: %d %s\n", rec.Sequence, rec.Payload)

	// Output:
	// in flight: 2 lost in flight
	// redelivered: 2 lost in flight
}
