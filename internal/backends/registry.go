package backends

import (
	"sync"

	"voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// Backend implementations self-register from their package init, keyed
// by the Type field of the matching config block. The bootstrap imports
// each implementation package for its side effect.

type RecognizerFactory func(cfg config.BackendConfig, logger *logging.Logger) (Recognizer, error)

type SynthesizerFactory func(cfg config.TTSBackendConfig, logger *logging.Logger) (Synthesizer, error)

type ReplyFactory func(cfg config.BackendConfig, logger *logging.Logger) (ReplyGenerator, error)

var (
	registryMu   sync.RWMutex
	recognizers  = make(map[string]RecognizerFactory)
	synthesizers = make(map[string]SynthesizerFactory)
	repliers     = make(map[string]ReplyFactory)
)

func RegisterRecognizer(name string, factory RecognizerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	recognizers[name] = factory
}

func RegisterSynthesizer(name string, factory SynthesizerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	synthesizers[name] = factory
}

func RegisterReplyGenerator(name string, factory ReplyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	repliers[name] = factory
}

func CreateRecognizer(name string, cfg config.BackendConfig, logger *logging.Logger) (Recognizer, error) {
	registryMu.RLock()
	factory, ok := recognizers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindConfig, "backends.recognizer", "unknown recognizer backend: "+name)
	}
	r, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "backends.recognizer", "create "+name, err)
	}
	return r, nil
}

func CreateSynthesizer(name string, cfg config.TTSBackendConfig, logger *logging.Logger) (Synthesizer, error) {
	registryMu.RLock()
	factory, ok := synthesizers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindConfig, "backends.synthesizer", "unknown synthesizer backend: "+name)
	}
	s, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "backends.synthesizer", "create "+name, err)
	}
	return s, nil
}

func CreateReplyGenerator(name string, cfg config.BackendConfig, logger *logging.Logger) (ReplyGenerator, error) {
	registryMu.RLock()
	factory, ok := repliers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindConfig, "backends.reply", "unknown reply backend: "+name)
	}
	g, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "backends.reply", "create "+name, err)
	}
	return g, nil
}
