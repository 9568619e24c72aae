package thermal

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/clock"
	"calibrecorder/internal/sink"
)

// DefaultPeriod は温度の記録周期
const DefaultPeriod = time.Second

// LineSink は行単位の出力先
type LineSink interface {
	WriteLine(line string) error
}

// Options は温度ストリームの設定
type Options struct {
	Period time.Duration
	Clock  clock.Source
}

// Stats は温度ストリームの統計情報
type Stats struct {
	Rows        int64
	ReadErrors  int64
	WriteErrors int64
}

// Stream はサーマルゾーンの温度を周期的に書き込む
type Stream struct {
	zones  []Zone
	period time.Duration
	clock  clock.Source

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	rows        atomic.Int64
	readErrors  atomic.Int64
	writeErrors atomic.Int64
}

// NewStream は新しいStreamを作成する
func NewStream(zones []Zone, opts Options) *Stream {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.BootTime()
	}
	return &Stream{
		zones:  zones,
		period: opts.Period,
		clock:  opts.Clock,
	}
}

// Zones は記録するゾーンを返す
func (s *Stream) Zones() []Zone {
	return s.zones
}

// Period は記録周期を返す
func (s *Stream) Period() time.Duration {
	return s.period
}

// Open は見出し行を書き込み、記録を開始する
func (s *Stream) Open(out LineSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return fmt.Errorf("温度の記録は既に開始されています")
	}
	if err := out.WriteLine(sink.FormatThermalHeader(Numbers(s.zones))); err != nil {
		return fmt.Errorf("見出し行の書き込みに失敗: %w", err)
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(out, s.stopCh, s.done)

	log.WithField("zones", Numbers(s.zones)).Infof("温度の記録を開始しました (周期: %s)", s.period)
	return nil
}

// Close は記録を停止する。複数回呼び出しても安全
func (s *Stream) Close() {
	s.mu.Lock()
	stopCh := s.stopCh
	done := s.done
	s.mu.Unlock()

	if stopCh == nil {
		return
	}

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-done
}

// Stats は統計情報を返す
func (s *Stream) Stats() Stats {
	return Stats{
		Rows:        s.rows.Load(),
		ReadErrors:  s.readErrors.Load(),
		WriteErrors: s.writeErrors.Load(),
	}
}

func (s *Stream) run(out LineSink, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	failing := false
	for {
		// 開始直後に1行書き、以後は周期ごとに書く
		s.writeRow(out, &failing)

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Stream) writeRow(out LineSink, failing *bool) {
	ts := s.clock.Now()
	temps := make([]float64, len(s.zones))
	for i, zone := range s.zones {
		t, err := zone.ReadCelsius()
		if err != nil {
			s.readErrors.Add(1)
			log.Debugf("温度の読み取りに失敗: %v", err)
			t = math.NaN()
		}
		temps[i] = t
	}

	if err := out.WriteLine(sink.FormatThermalLine(ts, temps)); err != nil {
		s.writeErrors.Add(1)
		if !*failing {
			log.Errorf("温度の書き込みに失敗: %v", err)
			*failing = true
		}
		return
	}
	*failing = false
	s.rows.Add(1)
}
