package task

// Attributes 任务上的开放式键值标签（对外导出）
// 值允许字符串、布尔和嵌套map/slice。引擎本身从不解释这些键，
// 只有分组、目标筛选等阶段按约定读取。任务离开transform流水线后
// attributes视为不可变，任务图在插入时持有深拷贝。
type Attributes map[string]any

// String 读取字符串attribute
func (a Attributes) String(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	v, ok := a[key].(string)
	return v, ok
}

// StringOr 读取字符串attribute，缺失时返回默认值
func (a Attributes) StringOr(key, fallback string) string {
	if v, ok := a.String(key); ok {
		return v
	}
	return fallback
}

// Bool 读取布尔attribute
func (a Attributes) Bool(key string) (bool, bool) {
	if a == nil {
		return false, false
	}
	v, ok := a[key].(bool)
	return v, ok
}

// Has 判断attribute是否存在
func (a Attributes) Has(key string) bool {
	if a == nil {
		return false
	}
	_, ok := a[key]
	return ok
}

// Clone 深拷贝attributes（嵌套map/slice一并复制）
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge 返回叠加了other键值的新attributes，原值不变
func (a Attributes) Merge(other Attributes) Attributes {
	out := a.Clone()
	if out == nil {
		out = make(Attributes, len(other))
	}
	for k, v := range other {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Attributes:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
