package script

import (
	"go.starlark.net/starlark"
)

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func (r *Runner) builtins() starlark.StringDict {
	fns := map[string]builtinFunc{
		"set_reward":        r.setReward,
		"set_reward_once":   r.setRewardOnce,
		"get_reward":        r.getReward,
		"set_termination":   r.setTermination,
		"reset_termination": r.resetTermination,
		"get_termination":   r.getTermination,
		"get_soft_reset":    r.getSoftReset,
		"set_info":          r.setInfo,
		"reset_info":        r.resetInfo,
		"get_from_info":     r.getFromInfo,
		"remove_from_info":  r.removeFromInfo,
		"info_contains":     r.infoContains,
		"set_empty_list":    r.setEmptyList,
		"add_to_list":       r.addToList,
		"set_empty_dict":    r.setEmptyDict,
		"add_to_dict":       r.addToDict,
		"dict_contains":     r.dictContains,
		"get_from_dict":     r.getFromDict,
		"replace_buffer":    r.replaceBuffer,
		"tick_count":        r.tickCount,
	}
	out := make(starlark.StringDict, len(fns))
	for name, fn := range fns {
		out[name] = starlark.NewBuiltin(name, fn)
	}
	return out
}

func (r *Runner) setReward(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	f, err := toNumber(b.Name(), v)
	if err != nil {
		return nil, err
	}
	r.env.SetReward(f)
	return starlark.None, nil
}

func (r *Runner) setRewardOnce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, reset starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &v, &reset); err != nil {
		return nil, err
	}
	f, err := toNumber(b.Name(), v)
	if err != nil {
		return nil, err
	}
	to, err := toNumber(b.Name(), reset)
	if err != nil {
		return nil, err
	}
	r.env.SetRewardOnce(f, to)
	return starlark.None, nil
}

func (r *Runner) getReward(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Float(r.env.Reward()), nil
}

func (r *Runner) setTermination(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r.env.Terminate()
	return starlark.None, nil
}

func (r *Runner) resetTermination(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r.env.ResetTermination()
	return starlark.None, nil
}

func (r *Runner) getTermination(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(r.env.Terminated()), nil
}

func (r *Runner) getSoftReset(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(r.env.SoftReset()), nil
}

func (r *Runner) setInfo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &v); err != nil {
		return nil, err
	}
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	scalar, err := toScalar(v)
	if err != nil {
		return nil, err
	}
	r.env.SetInfo(key, scalar)
	return starlark.None, nil
}

func (r *Runner) resetInfo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r.env.ResetInfo()
	return starlark.None, nil
}

// getFromInfo returns None for missing keys and for lists or dicts.
func (r *Runner) getFromInfo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	v, ok := r.env.GetInfo(key)
	if !ok {
		return starlark.None, nil
	}
	return fromScalar(v), nil
}

func (r *Runner) removeFromInfo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	r.env.RemoveInfo(key)
	return starlark.None, nil
}

func (r *Runner) infoContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	return starlark.Bool(r.env.ContainsInfo(key)), nil
}

func (r *Runner) setEmptyList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	r.env.SetEmptyList(key)
	return starlark.None, nil
}

func (r *Runner) addToList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &v); err != nil {
		return nil, err
	}
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	scalar, err := toScalar(v)
	if err != nil {
		return nil, err
	}
	r.env.AppendToList(key, scalar)
	return starlark.None, nil
}

func (r *Runner) setEmptyDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	r.env.SetEmptyMap(key)
	return starlark.None, nil
}

func (r *Runner) addToDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, subkey string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &key, &subkey, &v); err != nil {
		return nil, err
	}
	if err := checkKeys(key, subkey); err != nil {
		return nil, err
	}
	scalar, err := toScalar(v)
	if err != nil {
		return nil, err
	}
	r.env.SetInMap(key, subkey, scalar)
	return starlark.None, nil
}

func (r *Runner) dictContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, subkey string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &subkey); err != nil {
		return nil, err
	}
	return starlark.Bool(r.env.MapContains(key, subkey)), nil
}

func (r *Runner) getFromDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, subkey string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &subkey); err != nil {
		return nil, err
	}
	v, ok := r.env.GetFromMap(key, subkey)
	if !ok {
		return starlark.None, nil
	}
	return fromScalar(v), nil
}

func (r *Runner) replaceBuffer(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var samples starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &samples); err != nil {
		return nil, err
	}
	buf, err := toSamples(b.Name(), samples)
	if err != nil {
		return nil, err
	}
	r.env.ReplaceBuffer(name, buf)
	return starlark.None, nil
}

func (r *Runner) tickCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeUint64(r.ticks), nil
}
