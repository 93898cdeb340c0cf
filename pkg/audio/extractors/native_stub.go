//go:build novtrnative

package extractors

import "github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"

const nativeAvailable = false

func newNativeExtractor(*Config) (Extractor, error) {
	return nil, common.NewAudioError(common.BackendNative, common.ErrCodeUnsupportedBackend,
		"native backend not compiled in (built with novtrnative)", nil)
}
