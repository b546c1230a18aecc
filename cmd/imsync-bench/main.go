// imsync-bench 按爬坡速率建立大量会话，统计初始连接耗时与通知数量
// transport.kind 为 redis/kafka 时，保持阶段还会往每个会话的在线状态流里注入事件
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/adapters/out/metrics"
	"github.com/EthanQC/imsync/internal/adapters/out/ws"
	"github.com/EthanQC/imsync/internal/application/session"
	"github.com/EthanQC/imsync/internal/config"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/in"
	"github.com/EthanQC/imsync/pkg/zlog"
)

// Options 压测参数
type Options struct {
	Sessions       int
	Ramp           time.Duration
	Hold           time.Duration
	ConnectTimeout time.Duration
	PublishEvery   time.Duration
	UserPrefix     string
	UserFile       string
	Output         string
	LogLevel       string
}

type benchUser struct {
	ID    string
	Token string
}

// countingDelegate 只计数，不做其他处理
type countingDelegate struct {
	in.NoopDelegate
	stats *Stats
}

func (d countingDelegate) OnAddedToRoom(*entity.Room) { d.stats.Notifications.Add(1) }
func (d countingDelegate) OnRemovedFromRoom(*entity.Room) { d.stats.Notifications.Add(1) }
func (d countingDelegate) OnRoomUpdated(*entity.Room) { d.stats.Notifications.Add(1) }
func (d countingDelegate) OnNewMessage(*entity.Message) { d.stats.Notifications.Add(1) }
func (d countingDelegate) OnNewCursor(*entity.Cursor) { d.stats.Notifications.Add(1) }
func (d countingDelegate) OnUserJoinedRoom(*entity.Room, *entity.User) {
	d.stats.Notifications.Add(1)
}
func (d countingDelegate) OnUserLeftRoom(*entity.Room, *entity.User) {
	d.stats.Notifications.Add(1)
}
func (d countingDelegate) OnUserPresenceChanged(_, _ entity.PresenceState, _ *entity.User) {
	d.stats.Notifications.Add(1)
}
func (d countingDelegate) OnError(error) { d.stats.SessionErrors.Add(1) }

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logCfg := zlog.DefaultConfig("imsync-bench")
	logCfg.Level = opts.LogLevel
	logger, err := zlog.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	users, err := loadUsers(opts, cfg.Transport.Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载用户失败: %v\n", err)
		os.Exit(1)
	}

	b, err := newBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化 %s 失败: %v\n", cfg.Transport.Kind, err)
		os.Exit(1)
	}
	if b != nil {
		defer b.close()
	}

	fmt.Println("=== imsync-bench ===")
	fmt.Printf("目标: %s (%s)\n", cfg.Transport.BaseURL, cfg.Transport.Kind)
	fmt.Printf("会话数: %d\n", len(users))
	fmt.Printf("爬坡时间: %s\n", opts.Ramp)
	fmt.Printf("保持时间: %s\n", opts.Hold)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n收到中断信号，正在关闭...")
		cancel()
	}()

	stats := newStats()
	runBench(ctx, cfg, opts, b, users, stats, logger)
	stats.EndTime = time.Now()

	result := stats.result(cfg.Transport.BaseURL, len(users))
	switch opts.Output {
	case "json":
		outputJSON(result)
	default:
		outputText(result)
	}
}

func parseFlags() Options {
	opts := Options{}

	flag.IntVar(&opts.Sessions, "sessions", 100, "会话数（未指定 user-file 时生效）")
	flag.DurationVar(&opts.Ramp, "ramp", 10*time.Second, "爬坡时间")
	flag.DurationVar(&opts.Hold, "hold", time.Minute, "全部建立后保持的时间")
	flag.DurationVar(&opts.ConnectTimeout, "connect-timeout", 15*time.Second, "单个会话完成初始同步的超时")
	flag.DurationVar(&opts.PublishEvery, "publish-every", time.Second, "redis/kafka 模式下注入在线状态事件的间隔，0 关闭")
	flag.StringVar(&opts.UserPrefix, "user-prefix", "bench-", "生成用户 ID 的前缀")
	flag.StringVar(&opts.UserFile, "user-file", "", "用户文件，每行 \"<user_id> [token]\"")
	flag.StringVar(&opts.Output, "output", "text", "输出格式: text, json")
	flag.StringVar(&opts.LogLevel, "log-level", "warn", "日志级别")

	flag.Parse()

	return opts
}

func loadUsers(opts Options, token string) ([]benchUser, error) {
	if opts.UserFile == "" {
		users := make([]benchUser, 0, opts.Sessions)
		for i := 0; i < opts.Sessions; i += 1 {
			users = append(users, benchUser{ID: fmt.Sprintf("%s%d", opts.UserPrefix, i), Token: token})
		}
		return users, nil
	}

	data, err := os.ReadFile(opts.UserFile)
	if err != nil {
		return nil, err
	}
	return parseUsers(string(data), token)
}

// parseUsers 解析用户文件；# 开头为注释，缺省 token 时使用配置里的 token
func parseUsers(data, token string) ([]benchUser, error) {
	var users []benchUser
	sc := bufio.NewScanner(strings.NewReader(data))
	line := 0
	for sc.Scan() {
		line += 1
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 1:
			users = append(users, benchUser{ID: fields[0], Token: token})
		case 2:
			users = append(users, benchUser{ID: fields[0], Token: fields[1]})
		default:
			return nil, fmt.Errorf("user file line %d: expected \"<user_id> [token]\"", line)
		}
	}
	return users, sc.Err()
}

func runBench(ctx context.Context, cfg *config.Config, opts Options, b *backend, users []benchUser, stats *Stats, logger *zap.Logger) {
	if len(users) == 0 {
		fmt.Println("没有可用的用户，退出")
		return
	}

	perSecond := float64(len(users)) / opts.Ramp.Seconds()
	if perSecond < 1 {
		perSecond = 1
	}
	fmt.Printf("爬坡速率: %.1f 会话/秒\n\n", perSecond)

	bar := progressbar.NewOptions(len(users),
		progressbar.OptionSetDescription("建立会话"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("session"),
	)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / perSecond))
	defer ticker.Stop()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sessions []*session.Session
		online   []string
	)

ramp:
	for _, u := range users {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}

		wg.Add(1)
		go func(u benchUser) {
			defer wg.Done()
			defer bar.Add(1)
			if s := openSession(ctx, cfg, opts, b, u, stats, logger); s != nil {
				mu.Lock()
				sessions = append(sessions, s)
				online = append(online, u.ID)
				mu.Unlock()
			}
		}(u)
	}

	wg.Wait()
	bar.Finish()
	fmt.Printf("\n成功建立 %d 个会话\n", len(sessions))

	if len(sessions) > 0 {
		fmt.Printf("保持会话 %s...\n", opts.Hold)
		report := time.NewTicker(10 * time.Second)
		defer report.Stop()
		hold := time.After(opts.Hold)

		var publish <-chan time.Time
		if b != nil && opts.PublishEvery > 0 {
			t := time.NewTicker(opts.PublishEvery)
			defer t.Stop()
			publish = t.C
		}
		round := 0

	wait:
		for {
			select {
			case <-ctx.Done():
				break wait
			case <-hold:
				break wait
			case <-report.C:
				printProgress(stats)
			case <-publish:
				publishRound(ctx, b.pub, online, round, stats)
				round += 1
			}
		}
	}

	for _, s := range sessions {
		s.Disconnect()
	}
}

// openSession 建立一个会话并等待初始同步完成，失败或超时返回 nil
func openSession(ctx context.Context, cfg *config.Config, opts Options, b *backend, u benchUser, stats *Stats, logger *zap.Logger) *session.Session {
	stats.Attempts.Add(1)

	client, err := ws.New(ws.Config{
		BaseURL: cfg.Transport.BaseURL,
		Token:   u.Token,
		Timeout: cfg.Transport.Timeout,
	}, logger)
	if err != nil {
		stats.recordFailure(metrics.Classify(err))
		return nil
	}

	start := time.Now()
	s := session.New(b.transport(client), entity.UserID(u.ID), cfg.SessionOptions(), logger.With(zap.String("bench_user", u.ID)))
	done := make(chan error, 1)
	if err := s.Connect(countingDelegate{stats: stats}, func(_ *entity.User, err error) { done <- err }); err != nil {
		stats.recordFailure(metrics.Classify(err))
		return nil
	}

	timer := time.NewTimer(opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			stats.recordFailure(metrics.Classify(err))
			s.Disconnect()
			return nil
		}
		stats.recordConnect(time.Since(start))
		return s
	case <-timer.C:
		stats.recordFailure("timeout")
	case <-ctx.Done():
		stats.recordFailure("canceled")
	}
	s.Disconnect()
	return nil
}

func printProgress(stats *Stats) {
	elapsed := time.Since(stats.StartTime)
	fmt.Printf("[%s] 成功: %d | 失败: %d | 通知: %d | 会话错误: %d | 注入: %d\n",
		elapsed.Round(time.Second), stats.Connected.Load(), stats.Failed.Load(),
		stats.Notifications.Load(), stats.SessionErrors.Load(), stats.Published.Load())
}

func outputJSON(result Result) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON 编码错误: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputText(result Result) {
	fmt.Println()
	fmt.Println("==================== 压测结果 ====================")
	fmt.Println()
	fmt.Println("--- 会话统计 ---")
	fmt.Printf("尝试会话数:     %d\n", result.Attempts)
	fmt.Printf("成功会话数:     %d\n", result.Connected)
	fmt.Printf("失败会话数:     %d\n", result.Failed)
	fmt.Printf("成功率:         %.2f%%\n", result.SuccessRate)
	fmt.Printf("收到通知数:     %d\n", result.Notifications)
	fmt.Printf("会话错误数:     %d\n", result.SessionErrors)
	if result.Published > 0 || result.PublishFailed > 0 {
		fmt.Printf("注入事件数:     %d\n", result.Published)
		fmt.Printf("注入失败数:     %d\n", result.PublishFailed)
	}
	fmt.Println()

	fmt.Println("--- 初始同步耗时 (ms) ---")
	fmt.Printf("Min:    %.2f\n", result.ConnectTime.Min)
	fmt.Printf("Max:    %.2f\n", result.ConnectTime.Max)
	fmt.Printf("Avg:    %.2f\n", result.ConnectTime.Avg)
	fmt.Printf("P50:    %.2f\n", result.ConnectTime.P50)
	fmt.Printf("P90:    %.2f\n", result.ConnectTime.P90)
	fmt.Printf("P95:    %.2f\n", result.ConnectTime.P95)
	fmt.Printf("P99:    %.2f\n", result.ConnectTime.P99)
	fmt.Printf("StdDev: %.2f\n", result.ConnectTime.StdDev)
	fmt.Println()

	if len(result.Errors) > 0 {
		fmt.Println("--- 错误统计 ---")
		for class, count := range result.Errors {
			fmt.Printf("%s: %d\n", class, count)
		}
		fmt.Println()
	}

	fmt.Printf("--- 运行时间: %.2f 秒 ---\n", result.ActualTime)
	fmt.Println("=================================================")
}
