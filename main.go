package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"docvoice/internal/api"
	"docvoice/internal/audio"
	"docvoice/internal/cache"
	"docvoice/internal/config"
	"docvoice/internal/extract"
	"docvoice/internal/filestore"
	"docvoice/internal/pipeline"
	"docvoice/internal/queue"
	"docvoice/internal/redis"
	"docvoice/internal/storage"
	"docvoice/internal/summarize"
	"docvoice/internal/synth"
	"docvoice/internal/translate"
	"docvoice/internal/worker"
)

func main() {
	cfgPath := os.Getenv("DOCVOICE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DOCVOICE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	files, err := filestore.NewDiskStore(cfg.BasicConfig.FileBaseDir)
	if err != nil {
		log.Fatalf("init file store: %v", err)
	}
	jobs := storage.NewJobStore(db)
	jobQueue := queue.NewRedisQueue(rdb, cfg.BasicConfig.QueueKey)
	statusCache := cache.NewStatus(rdb)

	pl := cfg.Pipeline
	llmTimeout := time.Duration(pl.LLMTimeoutSec) * time.Second

	extractor := extract.NewExtractor(extract.NewTesseractRecognizer(pl.OCRBinary), pl.MinPageChars)

	var summarizer *summarize.Summarizer
	var translator *translate.Translator
	if pl.GeminiAPIKey != "" {
		summarizer = summarize.NewSummarizer(
			summarize.NewGemini(pl.GeminiAPIKey, pl.SummaryModel),
			pl.SummaryInputBudget, pl.SummaryMaxChars, llmTimeout)
		if pl.TranslateEnabled {
			translator = translate.NewTranslator(
				translate.NewGemini(pl.GeminiAPIKey, pl.SummaryModel), llmTimeout)
		}
	} else {
		log.Printf("gemini api key not set, summarization and translation degraded")
	}

	synthesizer := synth.NewRetrying(
		synth.NewHTTPSynthesizer(pl.SynthEndpoint, pl.SynthLanguages), pl.SynthAttempts)
	assembler := audio.NewAssembler(pl.SampleRate, pl.GapMs, pl.MinSilenceMs, pl.SilenceThreshold)

	openPDF := func(data []byte) (extract.Document, error) {
		return extract.OpenPDF(data, pl.RenderBinary)
	}
	converter := pipeline.New(openPDF, extractor, summarizer, translator, synthesizer, assembler, pl.ChunkLimit)

	manager := worker.NewManager(jobs, files, converter, statusCache, pl.ResultPreviewChars, 0)
	pool := worker.NewPool(jobQueue, manager, cfg.BasicConfig.WorkerCount)
	pool.Start()
	defer pool.Stop()

	handlers := api.NewHandler(jobs, files, jobQueue, statusCache, cfg.BasicConfig.MaxUploadMB)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
