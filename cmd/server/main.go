// aigateway 计量计费的 AI 接口网关
//
//	aigateway serve                    启动 HTTP 服务（默认）
//	aigateway seed -f catalog.yaml     初始化提供商、模型、分组与密钥
//	aigateway sync-catalog [provider]  同步上游模型目录
//	aigateway token --subject ops      签发管理端令牌
package main

func main() {
	Execute()
}
