package rules

import "strings"

// JoinSampler renders a sampler and scheduler pair as "name_scheduler". The
// scheduler is left out when empty, "normal" or already a suffix of name.
func JoinSampler(name, scheduler string) string {
	scheduler = strings.TrimSpace(scheduler)
	if scheduler == "" || scheduler == "normal" || strings.HasSuffix(name, "_"+scheduler) {
		return name
	}
	return name + "_" + scheduler
}
