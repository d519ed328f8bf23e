// boardsim 在串口上模拟投币终端的IO协处理器，用于没有硬件时联调 cmd/atm。
//
// 用法：用虚拟串口对（如 socat -d -d pty,raw,echo=0 pty,raw,echo=0）连接两端，
// atm 配置 hardware.backend=serial，boardsim 打开另一端，然后在标准输入输入命令：
//
//	coin N   投入一枚N脉冲的硬币
//	press    按一次按键
//	status   显示闸门和指示灯状态
//	quit     退出
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/hardware"
	"github.com/wfunc/coin-atm/internal/logger"
)

func main() {
	var (
		portName = flag.String("port", "/dev/ttyS3", "串口设备")
		baud     = flag.Int("baud", 115200, "波特率")
		width    = flag.Duration("width", hardware.SimPulseWidth, "脉冲宽度")
		level    = flag.String("log", "info", "日志级别")
	)
	flag.Parse()

	if err := logger.Init(&config.LogConfig{Level: *level, Format: "console", Output: "stdout"}); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	port, err := serial.OpenPort(&serial.Config{
		Name:        *portName,
		Baud:        *baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("无法打开串口: %v", err)
	}
	defer port.Close()

	fmt.Println("=== IO协处理器模拟器启动 ===")
	fmt.Printf("串口: %s @ %d 8N1\n", *portName, *baud)
	fmt.Println("命令: coin N | press | status | quit")
	fmt.Println("----------------------------------------")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := hardware.NewSimulator(port)
	go func() {
		if err := sim.Serve(ctx); err != nil {
			log.Printf("模拟器退出: %v", err)
		}
		stop()
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !runCommand(ctx, sim, strings.Fields(line), *width) {
				return
			}
		}
	}
}

// runCommand 执行一条控制台命令，返回false表示退出
func runCommand(ctx context.Context, sim *hardware.Simulator, args []string, width time.Duration) bool {
	if len(args) == 0 {
		return true
	}

	switch args[0] {
	case "coin":
		pulses := 4
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Printf("无效的脉冲数: %s\n", args[1])
				return true
			}
			pulses = n
		}
		if err := sim.InsertCoin(ctx, pulses, width); err != nil {
			fmt.Printf("投币中断: %v\n", err)
		}
	case "press":
		sim.Press()
	case "status":
		s := sim.Status()
		fmt.Printf("脉冲线=%s 闸门放行=%v 指示灯=%v\n", s.CoinLevel, s.GateOpen, s.LightOn)
	case "quit", "exit":
		return false
	default:
		fmt.Printf("未知命令: %s\n", args[0])
	}
	return true
}
