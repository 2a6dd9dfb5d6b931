package main

import (
	"os"

	"arenasync/cli"
)

// arenasync 入口：serve 启动权威服务端，bot 连接预测客户端，replay 校验录制
func main() {
	os.Exit(cli.Execute())
}
