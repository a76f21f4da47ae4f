package cmd

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"ner-balancer/internal/config"
	"ner-balancer/internal/storage"

	"github.com/joho/godotenv"
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
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// SetupLogging tees the standard logger, and with it the default slog handler,
// into root/logName. The returned file must be closed by the caller.
func SetupLogging(root, logName string) *os.File {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(root, logName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))
	return f
}

func CreateStorage(ctx context.Context, cfg config.Config) storage.Provider {
	provider, err := cfg.NewStorage()
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	for _, bucket := range []string{cfg.UploadBucket, cfg.OutputBucket} {
		if err := provider.CreateBucket(ctx, bucket); err != nil {
			log.Fatalf("Failed to create bucket %s: %v", bucket, err)
		}
	}

	slog.Info("storage ready", "s3", cfg.UseS3(), "upload_bucket", cfg.UploadBucket, "output_bucket", cfg.OutputBucket)
	return provider
}
