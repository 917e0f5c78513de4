package transport

import (
	"context"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/orbitcex/matchcore/internal/orderbookcore/engine"
	"github.com/orbitcex/matchcore/internal/orderbookcore/events"
	"github.com/orbitcex/matchcore/pkg/metrics"
)

// KafkaConfig configures the authoritative egress sink, trimmed from
// messaging.KafkaConfig's high-frequency-trading fields to the ones
// this sink actually uses.
type KafkaConfig struct {
	Brokers         []string
	TradeTopic      string
	BookUpdateTopic string
	BatchSize       int
	BatchTimeout    time.Duration
	RequiredAcks    kafka.RequiredAcks
	WriteTimeout    time.Duration
}

// DefaultKafkaConfig mirrors messaging.DefaultKafkaConfig's choices
// where they apply to a single-partition-key authoritative log.
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:         brokers,
		TradeTopic:      "matchcore.trades",
		BookUpdateTopic: "matchcore.book_updates",
		BatchSize:       1000,
		BatchTimeout:    10 * time.Millisecond,
		RequiredAcks:    kafka.RequireOne,
		WriteTimeout:    1 * time.Second,
	}
}

// KafkaSink drains Engine's authoritative TradeReport and L2Update
// channels and writes them to Kafka, the durable tail spec §5 requires
// never drop. Grounded on publisher.KafkaPublisher's per-topic
// kafka.Writer wrapping, generalized to two topics and the
// batch/ack tuning messaging.KafkaConfig exposes.
type KafkaSink struct {
	trades  *kafka.Writer
	books   *kafka.Writer
	logger  *zap.Logger
	timeout time.Duration
}

// NewKafkaSink builds the two topic writers cfg names.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		trades: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.TradeTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: cfg.RequiredAcks,
		},
		books: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.BookUpdateTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: cfg.RequiredAcks,
		},
		logger:  logger,
		timeout: cfg.WriteTimeout,
	}
}

// Run drains eng's two authoritative channels until ctx is canceled.
// Each channel gets its own goroutine so a slow trade-topic write
// never backs up book-update delivery or vice versa; within a channel,
// writes are issued in receive order, preserving the per-channel
// ordering spec §6 requires.
func (s *KafkaSink) Run(ctx context.Context, eng *engine.Engine) {
	go s.drainTrades(ctx, eng.AuthoritativeTrades())
	go s.drainBookUpdates(ctx, eng.AuthoritativeBookUpdates())
}

func (s *KafkaSink) drainTrades(ctx context.Context, ch <-chan events.TradeReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-ch:
			if !ok {
				return
			}
			s.writeTrade(ctx, tr)
		}
	}
}

func (s *KafkaSink) drainBookUpdates(ctx context.Context, ch <-chan events.L2Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case lu, ok := <-ch:
			if !ok {
				return
			}
			s.writeBookUpdate(ctx, lu)
		}
	}
}

func (s *KafkaSink) writeTrade(ctx context.Context, tr events.TradeReport) {
	data, err := events.EncodeFrame(events.FrameTypeTradeReport, tr)
	if err != nil {
		s.logger.Error("encode trade report for kafka", zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.trades.WriteMessages(wctx, kafka.Message{Key: []byte(tr.Instrument), Value: data}); err != nil {
		metrics.EgressSinkFailures.WithLabelValues("trades").Inc()
		s.logger.Error("kafka trade write failed", zap.Error(err), zap.String("instrument", tr.Instrument))
	}
}

func (s *KafkaSink) writeBookUpdate(ctx context.Context, lu events.L2Update) {
	data, err := events.EncodeFrame(events.FrameTypeL2Update, lu)
	if err != nil {
		s.logger.Error("encode book update for kafka", zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.books.WriteMessages(wctx, kafka.Message{Key: []byte(lu.Instrument), Value: data}); err != nil {
		metrics.EgressSinkFailures.WithLabelValues("book_updates").Inc()
		s.logger.Error("kafka book update write failed", zap.Error(err), zap.String("instrument", lu.Instrument))
	}
}

// Close closes both topic writers.
func (s *KafkaSink) Close() error {
	if err := s.trades.Close(); err != nil {
		return err
	}
	return s.books.Close()
}
