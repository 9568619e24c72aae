package imu

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	log "github.com/sirupsen/logrus"

	"calibrecorder/internal/clock"
)

// readFunc は1サンプル分の3軸の値を読む
type readFunc func() (r3.Vector, error)

// poller は1つのリスナー登録に対応する配信ゴルーチン
type poller struct {
	sensor   *Sensor
	listener Listener
	period   time.Duration
	clock    clock.Source
	read     readFunc

	stopCh chan struct{}
	done   chan struct{}
}

func (p *poller) run() {
	defer close(p.done)

	logger := log.WithField("sensor", p.sensor.Name)
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.listener.OnAccuracyChanged(p.sensor, AccuracyHigh)

	failing := false
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		values, err := p.read()
		if err != nil {
			if !failing {
				logger.Errorf("センサーの読み取りに失敗: %v", err)
				p.listener.OnAccuracyChanged(p.sensor, AccuracyUnreliable)
				failing = true
			}
			continue
		}
		if failing {
			logger.Info("センサーの読み取りが回復しました")
			p.listener.OnAccuracyChanged(p.sensor, AccuracyHigh)
			failing = false
		}

		p.listener.OnSensorChanged(Event{
			Sensor:    p.sensor,
			Timestamp: p.clock.Now(),
			Values:    values,
		})
	}
}

func (p *poller) stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.done
}

type registration struct {
	listener Listener
	sensor   *Sensor
}

// registry はリスナー登録ごとのpollerを管理する
type registry struct {
	mu      sync.Mutex
	pollers map[registration]*poller
}

func newRegistry() *registry {
	return &registry{pollers: make(map[registration]*poller)}
}

func (r *registry) register(listener Listener, sensor *Sensor, period time.Duration, clk clock.Source, read readFunc) error {
	if period <= 0 {
		return fmt.Errorf("無効なサンプリング周期: %s", period)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registration{listener: listener, sensor: sensor}
	if _, exists := r.pollers[key]; exists {
		return fmt.Errorf("%s のリスナーは既に登録されています", sensor.Name)
	}

	p := &poller{
		sensor:   sensor,
		listener: listener,
		period:   period,
		clock:    clk,
		read:     read,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.pollers[key] = p
	go p.run()

	return nil
}

func (r *registry) unregister(listener Listener, sensor *Sensor) {
	r.mu.Lock()
	key := registration{listener: listener, sensor: sensor}
	p, exists := r.pollers[key]
	delete(r.pollers, key)
	r.mu.Unlock()

	if exists {
		p.stop()
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	pollers := r.pollers
	r.pollers = make(map[registration]*poller)
	r.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}
