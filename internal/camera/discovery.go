package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DeviceInfo はV4L2デバイスの詳細情報
type DeviceInfo struct {
	Device    string       // デバイスパス
	Name      string       // カード名
	Driver    string       // ドライバー名
	JPEGSizes []Resolution // JPEG/MJPEGで出力できる解像度
}

// Discovery はカメラデバイスの検出を行う
type Discovery interface {
	// ScanDevices は利用可能なデバイスパスを番号順に返す
	ScanDevices(ctx context.Context) ([]string, error)

	// CheckAccess はデバイスを開けるか確認する
	CheckAccess(device string) error

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DevicePath はカメラIDからデバイスパスを得る
//
// "0" のような番号は /dev/video0 に、絶対パスはそのまま扱う
func DevicePath(id string) string {
	if strings.HasPrefix(id, "/") {
		return id
	}
	return "/dev/video" + id
}

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	var devices []string

	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isVideoDevicePath(match) {
			continue
		}
		if d.CheckAccess(match) == nil {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// CheckAccess はデバイスファイルの存在と権限を確認する
func (d *LinuxDiscovery) CheckAccess(device string) error {
	if _, err := os.Stat(device); err != nil {
		return fmt.Errorf("%s: %w", device, ErrDeviceAccess)
	}

	file, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%s: %w", device, ErrPermissionDenied)
		}
		return fmt.Errorf("%s: %w: %v", device, ErrDeviceAccess, err)
	}
	_ = file.Close()

	return nil
}

// GetDeviceInfo はV4L2のioctlでデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if err := d.CheckAccess(device); err != nil {
		return nil, err
	}

	info, err := probeV4L2Device(device)
	if err != nil {
		return nil, fmt.Errorf("デバイス情報の取得に失敗 (%s): %w", device, err)
	}

	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}
	return info, nil
}

var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// isVideoDevicePath は /dev/videoN 形式のパスかチェックする
func isVideoDevicePath(device string) bool {
	return videoDevicePattern.MatchString(device)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.Mutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
	denied      map[string]bool
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{
		deviceInfos: make(map[string]*DeviceInfo),
		denied:      make(map[string]bool),
	}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.devices...), nil
}

// CheckAccess はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) CheckAccess(device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deviceInfos[device]; !exists {
		return fmt.Errorf("%s: %w", device, ErrDeviceAccess)
	}
	if m.denied[device] {
		return fmt.Errorf("%s: %w", device, ErrPermissionDenied)
	}
	return nil
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	if err := m.CheckAccess(device); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// コピーを返す
	result := *m.deviceInfos[device]
	result.JPEGSizes = append([]Resolution(nil), result.JPEGSizes...)
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deviceInfos[device]; exists {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver: "mock",
		JPEGSizes: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
	delete(m.denied, device)
}

// DenyAccess はテスト用にデバイスの権限をなくす
func (m *MockDiscovery) DenyAccess(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[device] = true
}
