package tileset

import (
	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileid"
)

// resolveNodeInfo walks srs's root down to id through refframe.Frame.Child,
// materializing ancestors lazily the way Frame already does internally.
// Returns ok=false if srs has no registered root or id isn't a descendant
// of that root's id.
func resolveNodeInfo(frame *refframe.Frame, srs string, id tileid.ID) (refframe.NodeInfo, bool) {
	info, ok := frame.RootNode(srs)
	if !ok {
		return refframe.NodeInfo{}, false
	}
	if id.Lod < info.Node.Lod {
		return refframe.NodeInfo{}, false
	}

	var path []tileid.ChildIndex
	cur := id
	for cur.Lod > info.Node.Lod {
		idx, ok := cur.ChildIndexOf()
		if !ok {
			return refframe.NodeInfo{}, false
		}
		path = append(path, idx)
		parent, ok := cur.Parent()
		if !ok {
			return refframe.NodeInfo{}, false
		}
		cur = parent
	}
	if cur != info.Node {
		return refframe.NodeInfo{}, false
	}

	for i := len(path) - 1; i >= 0; i-- {
		info, ok = frame.Child(info, path[i])
		if !ok {
			return refframe.NodeInfo{}, false
		}
	}
	return info, true
}
