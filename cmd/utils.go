package cmd

import (
	"flag"
	"log"

	"github.com/joho/godotenv"
	ort "github.com/yalue/onnxruntime_go"

	"medtext-backend/internal/config"
	"medtext-backend/internal/inference"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// NeedsOnnxRuntime reports whether any configured model needs the ONNX
// runtime shared library loaded before model loading can happen.
func NeedsOnnxRuntime(cfg config.PipelineConfig) bool {
	for _, spec := range cfg.Models {
		if spec.Type == inference.OnnxClassifier {
			return true
		}
	}
	return false
}

// InitOnnxRuntime loads the ONNX runtime shared library and returns the
// teardown to defer. Must run before any ONNX model is loaded.
func InitOnnxRuntime(dylibPath string) func() {
	if dylibPath == "" {
		log.Fatalf("ONNX_RUNTIME_DYLIB must be set when an ONNX model is configured")
	}
	ort.SetSharedLibraryPath(dylibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}
	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.Fatalf("error destroying onnx env: %v", err)
		}
	}
}
