package main

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/uninest/chatcore/cache"
	"github.com/uninest/chatcore/config"
	"github.com/uninest/chatcore/db"
	"github.com/uninest/chatcore/realtime"
	"github.com/uninest/chatcore/server"
	"github.com/uninest/chatcore/services"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if conf.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	gormDB := db.GetDB(conf)
	conversationRepo := db.NewConversationRepo(gormDB)
	messageRepo := db.NewMessageRepo(gormDB)

	var conversationCache cache.ConversationCache = cache.Noop{}
	if conf.RedisURL != "" {
		conversationCache, err = cache.NewRedisCache(conf.RedisURL)
		if err != nil {
			log.Fatalf("error connecting to redis: %v", err)
		}
	}

	hub := realtime.NewHub()
	conversationService := services.NewConversationService(conversationRepo, messageRepo, hub, conversationCache, conf)

	s := &server.Server{
		Config:                 conf,
		ConversationRepository: conversationRepo,
		MessageRepository:      messageRepo,
		ConversationService:    conversationService,
		ConversationCache:      conversationCache,
		Hub:                    hub,
	}

	s.Start()
}
