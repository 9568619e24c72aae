// Package main はキャリブレーション用記録コマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/camera"
	"calibrecorder/internal/config"
	"calibrecorder/internal/recorder"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル (YAML)")
		rootDir    = flag.String("out", "", "セッションを作成するディレクトリ")
		mode       = flag.String("mode", "", "キャプチャモード (repeating | still)")
		listOnly   = flag.Bool("list", false, "カメラデバイスを一覧表示して終了")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("calibrecorder")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  recorder [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Printf("環境変数 (%s*) で設定を上書きできます\n", config.EnvPrefix)
		os.Exit(0)
	}

	if *listOnly {
		if err := listDevices(); err != nil {
			log.Fatalf("デバイスの一覧取得に失敗しました: %v", err)
		}
		return
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *rootDir != "" {
		cfg.Recorder.RootDir = *rootDir
	}
	if *mode != "" {
		cfg.Camera.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	// Recorderを作成
	rec, err := recorder.New(cfg)
	if err != nil {
		log.Fatalf("Recorderの作成に失敗しました: %v", err)
	}

	// 記録を開始
	log.Infof("記録を開始します: %s", cfg.Recorder.RootDir)
	if err := rec.Start(context.Background()); err != nil {
		log.Errorf("記録に失敗しました: %v", err)
		os.Exit(1)
	}
}

// listDevices はJPEG出力に対応したV4L2デバイスを表示する
func listDevices() error {
	ctx := context.Background()
	discovery := camera.NewLinuxDiscovery()

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}

	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			fmt.Printf("%s: %v\n", device, err)
			continue
		}

		sizes := make([]string, 0, len(info.JPEGSizes))
		for _, size := range info.JPEGSizes {
			sizes = append(sizes, size.String())
		}
		fmt.Printf("%s: %s (%s) %s\n", info.Device, info.Name, info.Driver, strings.Join(sizes, " "))
	}
	return nil
}
