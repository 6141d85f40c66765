package envelope

import "finitefield.org/edu-storefront/internal/record"

// One extracts a single entity from detail responses: a bare record, {data:{...}},
// {success, data:{...}}, a doubly wrapped {data:{data:{...}}}, or the first record of a list.
func One(v any) (record.Record, bool) {
	if list, ok := record.List(v); ok {
		items := records(list)
		if len(items) == 0 {
			return nil, false
		}
		return items[0], true
	}
	env, ok := record.From(v)
	if !ok {
		return nil, false
	}
	for depth := 0; depth < 2; depth++ {
		if list, ok := env.Slice("data"); ok {
			return One(list)
		}
		data, ok := env.Map("data")
		if !ok {
			break
		}
		env = data
	}
	if _, ok := env.Get("success"); ok && !env.Has("id") {
		return nil, false
	}
	if len(env) == 0 {
		return nil, false
	}
	return env, true
}
