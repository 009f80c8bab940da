package server

// TaskSink 是宿主环境的后台任务接收器：把工作延长到响应返回之后。
// 不支持的环境下退化为 fire-and-forget。
type TaskSink interface {
	Schedule(task func())
}

// GoSink 用独立 goroutine 承接后台任务，是默认实现。
type GoSink struct{}

// Schedule 启动 goroutine 执行任务，不等待完成。
func (GoSink) Schedule(task func()) {
	go task()
}

// SyncSink 同步执行任务，测试中用它保证写入完成后再断言。
type SyncSink struct{}

// Schedule 立即在当前 goroutine 执行任务。
func (SyncSink) Schedule(task func()) {
	task()
}
