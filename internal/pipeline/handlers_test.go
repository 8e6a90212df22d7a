package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/types"
)

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := error(stageErr(CodeTransport, "model call failed", cause))

	assert.Equal(t, "INFERENCE_TRANSPORT_ERROR: model call failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeTransport, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(cause))

	wrapped := errors.Join(errors.New("outer"), stageErr(CodeFramesNotReady, "not yet", nil))
	assert.True(t, queue.Retryable(wrapped))
	assert.True(t, queue.Retryable(stageErr(CodeStoreUnavailable, "db down", nil)))
	assert.False(t, queue.Retryable(stageErr(CodeNoFrames, "none", nil)))
}

func TestInferenceHandler(t *testing.T) {
	f := newInferenceFixture(t, 6)
	handle := InferenceHandler(f.stage)

	err := handle(context.Background(), queue.Message{Data: []byte(`{"jobId":"swing-1","ownerId":"user-1","status":"PROCESSING"}`)})
	require.NoError(t, err)
	assert.Equal(t, 0, f.model.calls())

	err = handle(context.Background(), queue.Message{Data: []byte(`{"jobId":"swing-1","ownerId":"user-1","status":"COMPLETED"}`)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAICompleted, f.store.get("swing-1").Status)
}

func TestInferenceHandler_MalformedTrigger(t *testing.T) {
	f := newInferenceFixture(t, 6)
	handle := InferenceHandler(f.stage)

	for _, body := range []string{`not json`, `{"status":"COMPLETED"}`} {
		err := handle(context.Background(), queue.Message{Data: []byte(body)})
		assert.Equal(t, CodeMalformedTrigger, CodeOf(err), body)
		assert.False(t, queue.Retryable(err))
	}
}

func TestExtractionHandler(t *testing.T) {
	f := newExtractionFixture(t, 2)
	handle := ExtractionHandler(f.stage)

	err := handle(context.Background(), queue.Message{Data: []byte(`{"jobId":"swing-1"}`)})
	assert.Equal(t, CodeMalformedTrigger, CodeOf(err))

	err = handle(context.Background(), queue.Message{Data: []byte(
		`{"jobId":"swing-1","ownerId":"user-1","bucketRef":"uploads","storageKey":"golf-swings/user-1/swing-1.mov"}`)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, f.store.get("swing-1").Status)
}
