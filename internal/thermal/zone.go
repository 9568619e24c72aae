package thermal

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot はサーマルゾーンのsysfsルート
const DefaultRoot = "/sys/class/thermal"

// ErrZoneUnavailable は指定したゾーンが読めない場合に返される
var ErrZoneUnavailable = errors.New("サーマルゾーンを利用できません")

// Zone は1つのサーマルゾーン
type Zone struct {
	Number int
	Path   string // temp ファイルのパス
}

// OpenZones は番号で指定したゾーンを開く。1つでも読めなければエラーを返す
func OpenZones(root string, numbers []int) ([]Zone, error) {
	if len(numbers) == 0 {
		return nil, fmt.Errorf("ゾーンが指定されていません: %w", ErrZoneUnavailable)
	}

	zones := make([]Zone, 0, len(numbers))
	for _, n := range numbers {
		zone := Zone{
			Number: n,
			Path:   filepath.Join(root, fmt.Sprintf("thermal_zone%d", n), "temp"),
		}
		if _, err := zone.ReadCelsius(); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", zone.Path, ErrZoneUnavailable, err)
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

// ReadCelsius は温度を℃で返す
func (z Zone) ReadCelsius() (float64, error) {
	data, err := os.ReadFile(z.Path)
	if err != nil {
		return math.NaN(), err
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("温度の解析に失敗 (%s): %w", z.Path, err)
	}
	return float64(milli) / 1000, nil
}

// Numbers はゾーン番号の一覧を返す
func Numbers(zones []Zone) []int {
	numbers := make([]int, len(zones))
	for i, z := range zones {
		numbers[i] = z.Number
	}
	return numbers
}
