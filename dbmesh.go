package dbmesh

import "fmt"

// 版本信息
//
// GitCommit 和 BuildDate 由构建系统通过 -ldflags 注入。
var (
	// Version 语义化版本号
	Version = "0.1.0"

	// GitCommit 构建时的 Git 提交哈希
	GitCommit = "unknown"

	// BuildDate 构建日期
	BuildDate = "unknown"
)

// VersionInfo 返回完整的版本描述
func VersionInfo() string {
	return fmt.Sprintf("dbmesh v%s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
