package mqtt

// 主题后缀，实际主题为配置前缀加后缀
const (
	TopicOrdersCompleted  = "orders/completed"  // 上游订单完成事件
	TopicSettlementPosted = "settlement/posted" // 结算入账通知
)

// Topic 拼接主题前缀
func Topic(prefix, suffix string) string {
	return prefix + suffix
}
