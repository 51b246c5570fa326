package registry

import (
	"github.com/cockroachdb/errors"

	"github.com/angeloszaimis/dispatcher/config"
)

// Open builds the store selected by cfg.Driver.
func Open(cfg config.RegistryConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		return NewRedisStore(cfg.Redis), nil
	case config.DriverEtcd:
		store, err := NewEtcdStore(cfg.Etcd)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverStatic:
		return NewStaticStore(cfg.Static.Services), nil
	default:
		return nil, errors.Newf("unknown registry driver %q", cfg.Driver)
	}
}
