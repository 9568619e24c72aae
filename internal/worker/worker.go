// Package worker はカメラごとの単一ゴルーチンのタスクキューを提供する
//
// タスクは投入順（FIFO）に1つずつ実行される。停止時は新規投入を拒否し、
// キューに残ったタスクを全て実行してからゴルーチンを終了する。
package worker

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Worker は専用ゴルーチンで順番にタスクを実行する
type Worker struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	stopping bool

	done     chan struct{}
	stopOnce sync.Once

	executed int64
}

// New は新しいWorkerを作成してゴルーチンを開始する
func New(name string) *Worker {
	w := &Worker{
		name: name,
		done: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.loop()
	return w
}

// Name はワーカー名を返す
func (w *Worker) Name() string {
	return w.name
}

// Post はタスクをキューの末尾に追加する
//
// 投入側をブロックしない。停止処理が始まっている場合は false を返し、
// タスクに紐づくリソースの後始末は呼び出し側が行う
func (w *Worker) Post(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping {
		return false
	}

	w.queue = append(w.queue, task)
	w.cond.Signal()
	return true
}

// Pending はキューに残っているタスク数を返す
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Executed は実行済みのタスク数を返す
func (w *Worker) Executed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executed
}

// Stop は新規投入を止め、キューを空にしてからゴルーチンの終了を待つ
//
// 複数回呼び出しても安全
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopping = true
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	<-w.done
}

// loop はキューからタスクを取り出して実行する
func (w *Worker) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopping {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			// 停止要求済みでキューが空
			w.mu.Unlock()
			return
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.run(task)

		w.mu.Lock()
		w.executed++
		w.mu.Unlock()
	}
}

// run はタスクを実行し、パニックをログに記録して握りつぶす
func (w *Worker) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("worker", w.name).Errorf("タスク実行中にパニックが発生: %v", r)
		}
	}()
	task()
}
