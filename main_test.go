package main

import (
	"bytes"
	"strings"
	"testing"
)

// useBufferWriters 把 CLI 输出重定向到内存缓冲，测试结束后恢复。
func useBufferWriters(t *testing.T) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func TestParseCLIFlags(t *testing.T) {
	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.checkOnly || opts.showVersion {
		t.Fatalf("默认选项应全为 false: %+v", opts)
	}

	opts, err = parseCLIFlags([]string{"--check-config", "--version"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !opts.checkOnly || !opts.showVersion {
		t.Fatalf("标志未生效: %+v", opts)
	}

	if _, err := parseCLIFlags([]string{"--unknown-flag"}); err == nil {
		t.Fatal("未知标志应返回错误")
	}
}

func TestRunCheckConfig(t *testing.T) {
	useBufferWriters(t)
	t.Setenv("LOG_LEVEL", "error")
	code := run(cliOptions{checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigBadLogLevel(t *testing.T) {
	useBufferWriters(t)
	t.Setenv("LOG_LEVEL", "not-a-level")
	code := run(cliOptions{checkOnly: true})
	if code == 0 {
		t.Fatal("无法初始化日志时应返回非零退出码")
	}
	if !strings.Contains(stdErr.(*bytes.Buffer).String(), "初始化日志失败") {
		t.Fatalf("stderr 缺少错误信息: %s", stdErr.(*bytes.Buffer).String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "xget") {
		t.Fatal("version 输出应包含 xget 标识")
	}
}
