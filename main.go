package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/config"
	"calibrecorder/internal/recorder"
)

func main() {
	// 設定を読み込む（環境変数のみ）
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	// Recorderを作成
	rec, err := recorder.New(cfg)
	if err != nil {
		log.Fatalf("Recorderの作成に失敗しました: %v", err)
	}

	// 記録を開始
	if err := rec.Start(context.Background()); err != nil {
		log.Errorf("記録に失敗しました: %v", err)
		os.Exit(1)
	}
}
