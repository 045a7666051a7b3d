package taskrun

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"
)

// StorageSync stages trees between durable storage and the local staging
// area. A failed transfer is reported, not retried, and every mapping is
// attempted even after a failure so the caller sees the complete picture of
// what is missing.
type StorageSync struct {
	store  ObjectStore
	logger *zap.Logger
}

func NewStorageSync(store ObjectStore, logger *zap.Logger) *StorageSync {
	return &StorageSync{store: store, logger: logger}
}

// Pull downloads every input mapping from storage into its staging
// location. It returns false if any transfer failed.
func (s *StorageSync) Pull(ctx context.Context, storagePrefix string, mappings []PathMapping) bool {
	s.logger.Info("pulling inputs from storage",
		zap.String("prefix", storagePrefix),
		zap.Int("count", len(mappings)))

	ok := true
	for _, m := range mappings {
		if err := s.store.DownloadTree(ctx, joinStoragePath(storagePrefix, m.SubPath), m.Local); err != nil {
			s.logger.Error("failed to pull input",
				zap.String("sub_path", m.SubPath), zap.Error(err))
			ok = false
		}
	}
	return ok
}

// Push uploads every selected output mapping from its staging location to
// storage. It returns false if any transfer failed.
func (s *StorageSync) Push(ctx context.Context, storagePrefix string, mappings []PathMapping) bool {
	subPaths := make([]string, 0, len(mappings))
	for _, m := range mappings {
		subPaths = append(subPaths, m.SubPath)
	}
	s.logger.Info("pushing outputs to storage",
		zap.String("prefix", storagePrefix),
		zap.Strings("sub_paths", subPaths))

	ok := true
	for _, m := range mappings {
		if err := s.store.UploadTree(ctx, m.Local, joinStoragePath(storagePrefix, m.SubPath)); err != nil {
			s.logger.Error("failed to push output",
				zap.String("sub_path", m.SubPath), zap.Error(err))
			ok = false
		}
	}
	return ok
}

// joinStoragePath joins a storage prefix and a sub path, keeping the
// trailing separator that marks a directory tree.
func joinStoragePath(prefix, subPath string) string {
	joined := path.Join(prefix, subPath)
	if NamesADirectory(subPath) && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
