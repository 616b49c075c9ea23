package write_buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	esclient "github.com/spanguard/spanguard/pkg/elasticsearch/client"
)

const WriteQueueSize = 30
const flushTimeOut = 10 * time.Second

type DatabaseWriteBuffer[ValueType any] interface {
	WriteToBuffer(value []ValueType)
	Flush() error
}

type DatabaseWriteBufferImpl[ValueType any] struct {
	writeQueue  []ValueType
	ec          esclient.EngineClient
	esIndexName string
	logger      *zap.Logger
	mu          sync.Mutex
}

func NewDatabaseWriteBufferImpl[ValueType any](
	ec esclient.EngineClient,
	esIndexName string,
	logger *zap.Logger,
) *DatabaseWriteBufferImpl[ValueType] {
	return &DatabaseWriteBufferImpl[ValueType]{
		writeQueue:  []ValueType{},
		ec:          ec,
		esIndexName: esIndexName,
		logger:      logger,
	}
}

func (wbc *DatabaseWriteBufferImpl[ValueType]) WriteToBuffer(
	value []ValueType,
) {
	wbc.mu.Lock()
	wbc.writeQueue = append(wbc.writeQueue, value...)
	pending := len(wbc.writeQueue)
	wbc.mu.Unlock()
	if pending > WriteQueueSize {
		go func() {
			err := wbc.flushToElasticsearch()
			if err != nil {
				wbc.logger.Error("Failed to flush to Elasticsearch", zap.Error(err))
			}
		}()
	}
}

// Flush writes any queued documents immediately. Used on shutdown.
func (wbc *DatabaseWriteBufferImpl[ValueType]) Flush() error {
	return wbc.flushToElasticsearch()
}

func (wbc *DatabaseWriteBufferImpl[ValueType]) flushToElasticsearch() error {
	wbc.mu.Lock()
	defer wbc.mu.Unlock()
	bulkCtx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
	defer cancel()
	metaMap, dataMap, err := esclient.ToMetaAndDataMap(wbc.writeQueue)
	if err != nil {
		return fmt.Errorf("error converting write queue to meta and data map: %w", err)
	}
	if len(metaMap) == 0 {
		wbc.writeQueue = []ValueType{}
		return nil
	}
	err = wbc.ec.BulkIndex(
		bulkCtx,
		metaMap,
		dataMap,
		wbc.esIndexName,
	)
	wbc.writeQueue = []ValueType{}
	if err != nil {
		return fmt.Errorf("error bulk indexing to Elasticsearch: %w", err)
	}
	return nil
}
