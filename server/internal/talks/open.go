package talks

import "fmt"

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open 按 driver 创建 Store，返回的 close 函数在进程退出时调用。
func Open(driver, path string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch driver {
	case "", DriverFile:
		return NewFileStore(path), noop, nil
	case DriverSQLite:
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverMemory:
		return NewInMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
