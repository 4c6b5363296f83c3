package http

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"voicedesk/internal/config"
	"voicedesk/internal/services"
	"voicedesk/internal/session"
	"voicedesk/internal/storage"
)

type Server struct {
	engine *gin.Engine
	cfg    config.Config
}

func NewServer(cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	fm, err := storage.NewFileManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	speech := services.NewSpeechClient(cfg)
	batchSvc := services.NewBatchService(speech, cfg.CacheValidDuration)
	realtimeSvc := services.NewRealtimeService(speech)
	localeSvc := services.NewLocaleService(speech)
	pdfSvc := services.NewPDFService()
	shareSvc := services.NewShareService(cfg)
	state := session.New(services.NewEditEngine())

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger())
	engine.Use(MaxBodySize(cfg.MaxUploadBytes))
	engine.Use(CORS())
	engine.Use(SecurityHeaders())

	api := NewAPI(cfg, fm, batchSvc, realtimeSvc, localeSvc, pdfSvc, shareSvc, state)
	registerRoutes(engine, api)

	return &Server{engine: engine, cfg: cfg}, nil
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	return s.engine.Run(addr)
}
