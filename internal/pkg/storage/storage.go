package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Store 定义媒体对象存储能力。
//
// 系统把对象存储当作外部协作方：上层只关心按 key 写入和读取，
// 具体落在磁盘还是云端由实现决定。
type Store interface {
	// Save 将 r 的内容写入 key，返回写入字节数。
	Save(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open 按 key 读取对象。
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReportObjectKey 为报告媒体生成存储路径。
//
// 路径按报告 ID 做命名空间，文件名加 UUID 前缀避免同名覆盖。
func ReportObjectKey(reportID uint, fileName string) string {
	return path.Join(
		"reports",
		fmt.Sprintf("%d", reportID),
		uuid.NewString()+"_"+sanitizeFileName(fileName),
	)
}

// sanitizeFileName 去掉路径分隔和不可见字符，只保留文件名本身。
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20:
			return -1
		case r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
