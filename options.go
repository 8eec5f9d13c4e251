package simplefs

import "fmt"

// WithCacheSize bounds the number of resident blocks.
func WithCacheSize(blocks int) Option {
	return func(fs *FS) error {
		if blocks < 1 {
			return fmt.Errorf("cache size %d too small", blocks)
		}
		fs.cacheSize = blocks
		return nil
	}
}
