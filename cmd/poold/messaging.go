package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kaspool/core/internal/messaging"
	"github.com/kaspool/core/internal/pool"
)

// kafkaEventPublisher mirrors job-ready and block-candidate events onto Kafka
// for deployments that run the stratum front-end as a separate process from
// this orchestrator. It is wired in only when MESSAGING_ENABLED is set;
// leaving it unset keeps the pool fully in-process.
type kafkaEventPublisher struct {
	client *messaging.KafkaClient
}

var _ pool.EventPublisher = (*kafkaEventPublisher)(nil)

func newKafkaEventPublisher(brokers []string, slogger *slog.Logger) *kafkaEventPublisher {
	return &kafkaEventPublisher{client: messaging.NewKafkaClient(brokers, slogger)}
}

func (p *kafkaEventPublisher) PublishJob(jobID string, prePoWHash [32]byte, timestamp int64) error {
	msg := messaging.JobMessage{
		JobID:      jobID,
		PrePoWHash: hex.EncodeToString(prePoWHash[:]),
		Timestamp:  timestamp,
		CreatedAt:  time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.PublishJSON(ctx, messaging.TopicJobs, jobID, data)
}

func (p *kafkaEventPublisher) PublishBlockCandidate(evt pool.BlockAcceptedEvent) error {
	msg := messaging.BlockCandidateMessage{
		BlockHash:    evt.BlockHash,
		MinerAddress: evt.Contribution.Address,
		WorkerName:   evt.Contribution.WorkerName,
		Difficulty:   evt.Contribution.Difficulty,
		FoundAt:      evt.Contribution.Timestamp,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.PublishJSON(ctx, messaging.TopicBlockCandidates, evt.BlockHash, data)
}

func (p *kafkaEventPublisher) Close() error {
	return p.client.Close()
}
