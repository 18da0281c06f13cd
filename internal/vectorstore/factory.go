package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
)

// New builds a Store from the retrieval configuration.
//
// Two providers are supported:
//   - "chromem" (default): embedded store persisted under cfg.Path, no
//     external services required.
//   - "qdrant": external Qdrant server over gRPC, for users who already
//     run one.
//
// vectorSize is the embedder's output dimension; chromem infers it from
// the vectors themselves, qdrant needs it at collection creation.
func New(cfg config.RetrievalConfig, embedder Embedder, vectorSize int, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Path, embedder, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			VectorSize: uint64(vectorSize),
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
