package embeddings

import "errors"

// ErrEmbedding indicates an embedding operation failed. The pipeline
// treats it as retryable and degrades the packet rather than failing
// the submission.
var ErrEmbedding = errors.New("embedding error")
