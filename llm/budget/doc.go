// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 budget 为每轮对话计算上下文窗口预算，并按字符数裁剪会话历史。

# 概述

后端模型的上下文窗口有限。每轮请求前，Estimator 把完整历史序列化
并计数，得出 prompt token 数与发给后端的 num_ctx；Trim 再按
PromptTokens*CharsPerToken 的字符预算从最新消息向前保留历史。

# 核心接口

  - Estimator：依赖 ModelCatalog 解析上下文窗口与分词器，返回 Info。
  - RequestContext：纯函数，由 prompt token 数推导 num_ctx。
  - Trim：纯函数，返回不超过字符预算的最长历史后缀。

# 使用方式

	est := budget.NewEstimator(catalog, cfg.Models.ResponseTokens)
	info, err := est.Estimate(history, "mistral")
	if err != nil {
	    // UNKNOWN_MODEL / TOKENIZER_UNAVAILABLE
	}
	kept := budget.Trim(history, info.PromptTokens*budget.CharsPerToken)
*/
package budget
