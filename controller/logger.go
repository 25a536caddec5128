package controller

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/distcodep7/lamport/trace"
)

type Logger interface {
	Printf(format string, v ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Printf(format string, v ...interface{}) {}

const (
	persistBuffer = 10000
	flushBatchLen = 500
	flushInterval = time.Second
)

// diskWriter batches events to a JSON lines file off the receive path.
type diskWriter struct {
	persistCh chan trace.Event
	done      chan struct{}
	once      sync.Once
	logger    Logger
	file      *os.File
}

func startDiskWriter(filePath string, logger Logger) (*diskWriter, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	dw := &diskWriter{
		persistCh: make(chan trace.Event, persistBuffer),
		done:      make(chan struct{}),
		logger:    logger,
		file:      f,
	}
	go dw.loop()
	return dw, nil
}

func (dw *diskWriter) write(ev trace.Event) {
	select {
	case dw.persistCh <- ev:
	default:
		dw.logger.Printf("[ERR] trace writer backlog full, dropped event %s", ev.ID)
	}
}

func (dw *diskWriter) loop() {
	defer close(dw.done)

	writer := bufio.NewWriter(dw.file)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]trace.Event, 0, flushBatchLen)
	for {
		select {
		case ev, ok := <-dw.persistCh:
			if !ok {
				dw.flushBatch(writer, batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= flushBatchLen {
				dw.flushBatch(writer, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				dw.flushBatch(writer, batch)
				batch = batch[:0]
			}
		}
	}
}

func (dw *diskWriter) flushBatch(writer *bufio.Writer, events []trace.Event) {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		writer.Write(data)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		dw.logger.Printf("[ERR] Failed to write to trace file: %v", err)
	}
}

func (dw *diskWriter) close() error {
	var err error
	dw.once.Do(func() {
		close(dw.persistCh)
		<-dw.done
		err = dw.file.Close()
	})
	return err
}
