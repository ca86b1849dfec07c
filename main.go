package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/whisper/bootstrap"
	"github.com/ceyewan/whisper/chat"
	"github.com/ceyewan/whisper/webserver"
)

func main() {
	var module string
	flag.StringVar(&module, "module", "", "assign run module: chat, web, init")
	flag.Parse()

	if module == "" {
		fmt.Println("error: module param required! Available: chat, web, init")
		os.Exit(1)
	}

	fmt.Printf("🚀 Starting Whisper %s service...\n", module)

	// 各个组件负责自己的配置加载
	switch module {
	case "chat":
		c, err := chat.New()
		if err != nil {
			fmt.Printf("❌ Failed to start chat: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		if err := c.Run(); err != nil {
			fmt.Printf("❌ Chat error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal(c.Done())

	case "web":
		w, err := webserver.New()
		if err != nil {
			fmt.Printf("❌ Failed to start web server: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		if err := w.Run(); err != nil {
			fmt.Printf("❌ Web server error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal(nil)

	case "init":
		if err := bootstrap.Run(); err != nil {
			fmt.Printf("❌ Database initialization failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Printf("❌ Unknown module: %s\n", module)
		fmt.Println("Available modules: chat, web, init")
		os.Exit(1)
	}
}

func waitForSignal(done <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	if done == nil {
		<-quit
	} else {
		select {
		case <-quit:
		case <-done:
		}
	}

	fmt.Println("👋 Service exiting")
}
