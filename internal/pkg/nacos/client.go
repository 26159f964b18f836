// internal/pkg/nacos/client.go
package nacos

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"stockflow/internal/pkg/logger"
)

const defaultGroup = "DEFAULT_GROUP"

// Instance 是注册到 Nacos 的一个服务实例。
// Metadata 里带上流水线角色 (mode / stockBackend / consumerGroup)，方便运维区分 admission 和 worker 节点。
type Instance struct {
	ServiceName string
	IP          string
	Port        int
	Metadata    map[string]string
}

// Registry 封装了 Nacos 命名客户端
type Registry struct {
	naming naming_client.INamingClient
	group  string
}

// ParseServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址列表
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address %q", addr)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	if len(out) == 0 {
		return nil, errors.New("no nacos server address configured")
	}
	return out, nil
}

func NewRegistry(ctx context.Context, addrs, namespaceID, group string) (*Registry, error) {
	if namespaceID == "" {
		logger.Ctx(ctx).Warn().Msg("nacos namespace is not set, using the public namespace")
	}
	if group == "" {
		group = defaultGroup
	}
	servers, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)
	naming, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  clientConfig,
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}
	logger.Ctx(ctx).Info().Str("addrs", addrs).Str("group", group).Msg("✅ Successfully connected to Nacos.")
	return &Registry{naming: naming, group: group}, nil
}

// Register 注册临时实例，返回的函数用于注销
func (r *Registry) Register(ctx context.Context, in Instance) (func(context.Context) error, error) {
	ok, err := r.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.ServiceName,
		GroupName:   r.group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true, // 心跳断开后自动摘除
		Metadata:    in.Metadata,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "register %s with nacos", in.ServiceName)
	}
	if !ok {
		return nil, errors.Errorf("nacos refused registration of %s", in.ServiceName)
	}
	logger.Ctx(ctx).Info().
		Str("service", in.ServiceName).
		Str("ip", in.IP).
		Int("port", in.Port).
		Interface("metadata", in.Metadata).
		Msg("✅ Service registered to Nacos")

	return func(ctx context.Context) error {
		if _, err := r.naming.DeregisterInstance(vo.DeregisterInstanceParam{
			Ip:          in.IP,
			Port:        uint64(in.Port),
			ServiceName: in.ServiceName,
			GroupName:   r.group,
			Ephemeral:   true,
		}); err != nil {
			return errors.Wrapf(err, "deregister %s from nacos", in.ServiceName)
		}
		logger.Ctx(ctx).Info().Str("service", in.ServiceName).Msg("Service deregistered from Nacos")
		return nil
	}, nil
}
