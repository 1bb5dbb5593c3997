package snowflake

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
)

// Init 初始化雪花算法节点，只生效一次
// machineID 超出 0-1023 时回退为 1
func Init(machineID int64) {
	nodeOnce.Do(func() {
		if machineID < 0 || machineID > 1023 {
			zap.L().Warn("雪花算法 MachineID 非法，使用默认值 1", zap.Int64("machineID", machineID))
			machineID = 1
		}
		var err error
		node, err = snowflake.NewNode(machineID)
		if err != nil {
			zap.L().Fatal("雪花算法节点初始化失败", zap.Error(err))
		}
		zap.L().Info("雪花算法节点初始化成功", zap.Int64("machineID", machineID))
	})
}

// GenerateIDString 生成消息 ID（字符串形式，避免前端精度丢失）
func GenerateIDString() string {
	Init(1)
	return node.Generate().String()
}
