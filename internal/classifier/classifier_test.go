package classifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(size int) *Classifier {
	return New(Config{BufferSize: size})
}

func TestClassifyKnownCodes(t *testing.T) {
	c := newTestClassifier(10)

	disconnected := c.Classify(-1001)
	assert.Equal(t, SeverityFatal, disconnected.Severity)
	assert.Equal(t, CategoryConnection, disconnected.Category)
	assert.True(t, disconnected.Recoverable)

	rateLimited := c.Classify(-1003)
	assert.Equal(t, SeverityWarning, rateLimited.Severity)
	assert.Equal(t, CategoryRateLimit, rateLimited.Category)
	assert.True(t, rateLimited.Recoverable)

	badSignature := c.Classify(-1022)
	assert.Equal(t, SeverityFatal, badSignature.Severity)
	assert.False(t, badSignature.Recoverable)
}

func TestClassifyUnknownCodeDefaults(t *testing.T) {
	c := newTestClassifier(10)
	cl := c.Classify(-99999)
	assert.Equal(t, SeverityWarning, cl.Severity)
	assert.Equal(t, CategorySystem, cl.Category)
	assert.False(t, cl.Recoverable)
}

func TestHandleErrorDecisions(t *testing.T) {
	c := newTestClassifier(10)
	ctx := context.Background()

	// FATAL + recoverable → reconnect, no same-path retry.
	d := c.HandleError(ctx, -1001, "connection lost")
	assert.True(t, d.ShouldReconnect)
	assert.False(t, d.ShouldRetry)

	// Recoverable non-fatal → retry, no reconnect.
	d = c.HandleError(ctx, -1003, "rate limited")
	assert.False(t, d.ShouldReconnect)
	assert.True(t, d.ShouldRetry)

	// FATAL + not recoverable → neither.
	d = c.HandleError(ctx, -1022, "bad signature")
	assert.False(t, d.ShouldReconnect)
	assert.False(t, d.ShouldRetry)

	// Unknown → neither.
	d = c.HandleError(ctx, 12345, "mystery")
	assert.False(t, d.ShouldReconnect)
	assert.False(t, d.ShouldRetry)
}

func TestRecordBufferBoundedMostRecentFirst(t *testing.T) {
	c := newTestClassifier(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.HandleError(ctx, -1003, fmt.Sprintf("err %d", i))
	}

	recs := c.Recent()
	require.Len(t, recs, 3)
	assert.Equal(t, "err 4", recs[0].Message)
	assert.Equal(t, "err 3", recs[1].Message)
	assert.Equal(t, "err 2", recs[2].Message)
}

func TestListenersReceiveRecords(t *testing.T) {
	c := newTestClassifier(10)
	var got []Record
	c.AddListener(func(r Record) { got = append(got, r) })

	c.HandleError(context.Background(), -2010, "order rejected")

	require.Len(t, got, 1)
	assert.Equal(t, -2010, got[0].Code)
	assert.Equal(t, CategoryOrder, got[0].Category)
}
