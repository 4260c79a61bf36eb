package runtime

import (
	"context"

	"github.com/justapithecus/fedrun/registry"
	"github.com/justapithecus/fedrun/sandbox"
	"github.com/justapithecus/fedrun/types"
)

// chunkLoader runs locate, fetch and evaluate for the registry.
type chunkLoader struct {
	rt *Runtime
}

func (l chunkLoader) Load(ctx context.Context, id types.ChunkID) (*registry.Payload, error) {
	rt := l.rt
	desc, err := rt.resolver.Resolve(id.Remote())
	if err != nil {
		return nil, err
	}

	res, err := rt.fetcher.Fetch(ctx, rt.locate(desc, id.Name()))
	if err != nil {
		return nil, err
	}

	chunk, err := rt.host.Evaluate(ctx, res.Data, sandbox.Origin{
		Chunk:    id,
		Filename: res.From,
		Dirname:  originDir(res),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]types.ChunkID, 0, len(chunk.IDs))
	for _, name := range chunk.IDs {
		ids = append(ids, types.NewChunkID(desc.Name, name))
	}

	return &registry.Payload{
		IDs:       ids,
		Factories: chunk.Factories,
		Init:      chunk.Initializer(ctx, desc.ShareScope),
		Source:    res.Source,
		Location:  res.From,
		Bytes:     int64(len(res.Data)),
	}, nil
}

var _ registry.Loader = chunkLoader{}
