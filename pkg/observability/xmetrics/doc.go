// Package xmetrics 提供统一的观测抽象（Observer/Span）及其 OpenTelemetry 实现。
//
// 业务代码只依赖 Observer 接口，通过 Start/End 记录一次操作的跨度与结果；
// 是否接入 OTel（或完全关闭观测）由调用方在装配时决定：
//
//	// 关闭观测（默认）
//	obs := xmetrics.NoopObserver{}
//
//	// 接入 OpenTelemetry
//	obs, err := xmetrics.NewOTelObserver()
//
// 典型用法：
//
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//	    Component: "openapi",
//	    Operation: "get_token",
//	    Kind:      xmetrics.KindClient,
//	})
//	defer func() { span.End(xmetrics.Result{Err: err}) }()
package xmetrics
