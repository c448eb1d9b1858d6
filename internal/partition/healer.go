package partition

// Heal reconciles two divergent state snapshots after a repaired split.
// For the union of keys, the side with the strictly higher version wins;
// on a tie the local side is preferred when it holds the key, the remote
// side otherwise. Returns freshly allocated maps.
//
// This is version-based reconciliation, a second path independent of the
// per-round gossip exchange; it exists for catching up after long splits
// where per-key rounds would take too many intervals.
func Heal(
	localState, remoteState map[string][]byte,
	localVersions, remoteVersions map[string]uint64,
) (map[string][]byte, map[string]uint64) {
	keys := make(map[string]struct{}, len(localVersions)+len(remoteVersions))
	for k := range localState {
		keys[k] = struct{}{}
	}
	for k := range remoteState {
		keys[k] = struct{}{}
	}

	state := make(map[string][]byte, len(keys))
	versions := make(map[string]uint64, len(keys))
	for k := range keys {
		lv, lok := localState[k]
		rv := remoteState[k]
		switch {
		case remoteVersions[k] > localVersions[k]:
			state[k] = rv
			versions[k] = remoteVersions[k]
		case localVersions[k] > remoteVersions[k]:
			state[k] = lv
			versions[k] = localVersions[k]
		case lok:
			state[k] = lv
			versions[k] = localVersions[k]
		default:
			state[k] = rv
			versions[k] = remoteVersions[k]
		}
	}
	return state, versions
}
