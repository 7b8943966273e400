// Package kafka ingests scored clip candidates from the upstream scoring
// pipeline. Candidates arrive as JSON on a topic and land in the candidate
// store, where the planner picks them up once rendered.
package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"

	"clippy/scoring"
	"clippy/store"
	"clippy/types"
)

// MessageHandler processes one consumed message. A returned error leaves
// the message unmarked so it is retried; shouldMark=false does the same
// without logging an error.
type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) (shouldMark bool, err error)
}

// Consumer wraps a sarama consumer group with a pluggable handler
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	topic   string
	groupID string
	ready   chan bool
}

// ConsumerConfig holds the Kafka consumer settings
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler MessageHandler
}

// NewConsumer creates a consumer group client for candidate ingestion
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		handler: cfg.Handler,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		ready:   make(chan bool),
	}, nil
}

// Start begins consuming in the background and returns once the group has
// joined.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &groupHandler{
		messageHandler: c.handler,
		ready:          c.ready,
	}

	go func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if err == context.Canceled {
					log.Println("Kafka consumer context canceled")
					return
				}
				log.Printf("Error from Kafka consumer: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
			handler.ready = make(chan bool)
		}
	}()

	<-c.ready
	log.Printf("✅ Kafka consumer started (group: %s, topic: %s)", c.groupID, c.topic)

	go func() {
		for err := range c.group.Errors() {
			log.Printf("❌ Kafka consumer error: %v", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the consumer
func (c *Consumer) Close() error {
	log.Println("Closing Kafka consumer...")
	return c.group.Close()
}

type groupHandler struct {
	messageHandler MessageHandler
	ready          chan bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			shouldMark, err := h.messageHandler.HandleMessage(session.Context(), message.Value)
			if err != nil {
				log.Printf("❌ Failed to handle message at offset %d: %v", message.Offset, err)
			}
			if shouldMark {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// CandidateHandler decodes scored candidates and adds them to the store.
// Malformed or invalid candidates are logged and marked consumed: an
// InvalidCandidate rejection is never retried. A message may omit its
// virality score; when a Scorer is configured it is computed from the
// transcript, and a candidate with neither is dropped. An explicit score of
// 0.0 is a score, not an absence.
type CandidateHandler struct {
	Store  *store.Store
	Scorer scoring.Scorer
}

func (h *CandidateHandler) HandleMessage(ctx context.Context, message []byte) (bool, error) {
	// The pointer field shadows the embedded one, so absence of the key is
	// distinguishable from an explicit zero
	var msg struct {
		types.ClipCandidate
		ViralityScore *float64 `json:"virality_score"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("❌ Dropping undecodable candidate message: %v", err)
		return true, nil
	}

	cand := msg.ClipCandidate
	switch {
	case msg.ViralityScore != nil:
		cand.ViralityScore = *msg.ViralityScore
	case h.Scorer != nil && cand.Transcript != "":
		score, err := h.Scorer.Score(ctx, cand.Transcript)
		if err != nil {
			// Scoring is transient infrastructure; leave unmarked and retry
			return false, err
		}
		cand.ViralityScore = score
	default:
		log.Printf("❌ Dropping candidate %s: no score and nothing to score from", cand.ID)
		return true, nil
	}

	if err := h.Store.Add(cand); err != nil {
		if types.IsInvalidCandidate(err) {
			log.Printf("❌ Rejected candidate: %v", err)
			return true, nil
		}
		return false, err
	}

	log.Printf("📥 Candidate %s queued for %v (score %.2f)", cand.ID, cand.TargetPlatforms, cand.ViralityScore)
	return true, nil
}
