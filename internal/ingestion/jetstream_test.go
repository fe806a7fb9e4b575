package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
)

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second
	maxDeliver := 5

	retryable := apperrors.NewRetryable(errors.New("db down"), "transient")
	fatal := apperrors.NewFatal(errors.New("bad payload"), "terminal")

	tests := []struct {
		name         string
		err          error
		numDelivered uint64
		wantAction   AckNakAction
		wantDelay    time.Duration
	}{
		{name: "SuccessAcks", err: nil, numDelivered: 1, wantAction: ActionAck},
		{name: "RetryableFirstAttempt", err: retryable, numDelivered: 1, wantAction: ActionNakDelay, wantDelay: baseDelay},
		{name: "RetryableSecondAttempt", err: retryable, numDelivered: 2, wantAction: ActionNakDelay, wantDelay: 2 * time.Second},
		{name: "RetryableThirdAttempt", err: retryable, numDelivered: 3, wantAction: ActionNakDelay, wantDelay: 4 * time.Second},
		{name: "RetryableDelayCapped", err: retryable, numDelivered: 4, wantAction: ActionNakDelay, wantDelay: 8 * time.Second},
		{name: "RetryableExhaustedJournals", err: retryable, numDelivered: 5, wantAction: ActionJournal},
		{name: "RetryableOverMaxJournals", err: retryable, numDelivered: 7, wantAction: ActionJournal},
		{name: "FatalJournalsImmediately", err: fatal, numDelivered: 1, wantAction: ActionJournal},
		{name: "UnwrappedErrorJournals", err: errors.New("unclassified"), numDelivered: 1, wantAction: ActionJournal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			metadata := &nats.MsgMetadata{NumDelivered: tc.numDelivered}
			action, delay := determineAckNakAction(tc.err, metadata, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tc.wantAction, action)
			if tc.wantAction == ActionNakDelay {
				assert.Equal(t, tc.wantDelay, delay)
			}
		})
	}
}

func TestDetermineAckNakAction_DelayCapAppliesMax(t *testing.T) {
	retryable := apperrors.NewRetryable(errors.New("db down"), "transient")
	metadata := &nats.MsgMetadata{NumDelivered: 9}

	action, delay := determineAckNakAction(retryable, metadata, 20, time.Second, 10*time.Second)

	assert.Equal(t, ActionNakDelay, action)
	assert.Equal(t, 10*time.Second, delay)
}

func TestModifySubjects(t *testing.T) {
	streamSubjects, consumerSubjects := modifySubjects([]string{"v1.webhooks.manychat", "v1.webhooks.crm"}, "tenant-1")

	assert.Equal(t, []string{"v1.webhooks.manychat.*", "v1.webhooks.crm.*"}, streamSubjects)
	assert.Equal(t, []string{"v1.webhooks.manychat.tenant-1", "v1.webhooks.crm.tenant-1"}, consumerSubjects)
}
