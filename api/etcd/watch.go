// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package etcd

import (
	"sync"
	"sync/atomic"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	mvccpb "go.etcd.io/etcd/api/v3/mvccpb"

	"xkv/internal/keyrange"
	"xkv/internal/mvcc"
	"xkv/internal/watcher"
	"xkv/pkg/log"
)

// deliveryBuffer bounds how many undelivered Response batches a watch
// holds before the subsystem's victim-retry path kicks in.
const deliveryBuffer = 64

// watchIDSeq generates watch IDs for clients that don't pick their own,
// shared across every stream this process serves.
var watchIDSeq atomic.Int64

// WatchServer implements etcd's Watch gRPC service over the core's
// watcher.Subsystem.
type WatchServer struct {
	pb.UnimplementedWatchServer
	server *Server
}

// streamWatch tracks one watch registered from a single Watch stream,
// so it can be torn down either on an explicit cancel request or when
// the stream itself ends.
type streamWatch struct {
	id       watcher.ID
	deliver  chan watcher.Response
	cancelCh chan struct{}
}

// Watch serves one bidirectional watch stream: clients may create and
// cancel any number of watches over its lifetime.
func (s *WatchServer) Watch(stream pb.Watch_WatchServer) error {
	var mu sync.Mutex
	active := make(map[watcher.ID]*streamWatch)

	var wg sync.WaitGroup
	defer func() {
		mu.Lock()
		for id, sw := range active {
			s.cancelWatch(id)
			close(sw.cancelCh)
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}

		if create := req.GetCreateRequest(); create != nil {
			sw := s.createWatch(create, stream)
			mu.Lock()
			active[sw.id] = sw
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				s.pump(stream, sw)
				mu.Lock()
				delete(active, sw.id)
				mu.Unlock()
			}()
		}

		if cancel := req.GetCancelRequest(); cancel != nil {
			id := watcher.ID(cancel.WatchId)
			mu.Lock()
			sw, ok := active[id]
			if ok {
				delete(active, id)
			}
			mu.Unlock()

			if ok {
				s.cancelWatch(id)
				close(sw.cancelCh)
			}

			if err := stream.Send(&pb.WatchResponse{
				Header:   s.server.getResponseHeader(),
				WatchId:  cancel.WatchId,
				Canceled: true,
			}); err != nil {
				return err
			}
		}
	}
}

// cancelWatch cancels id, tolerating the case where it has already
// been torn down by the victim-retry path: Subsystem.Cancel panics on
// an unknown id, so a cancel racing that path is recovered rather than
// guarded with a prior existence check, which would itself race it.
func (s *WatchServer) cancelWatch(id watcher.ID) {
	defer func() { recover() }()
	s.server.watchSub.Cancel(id)
}

// createWatch registers a new watcher for req and sends the initial
// "created" acknowledgement.
func (s *WatchServer) createWatch(req *pb.WatchCreateRequest, stream pb.Watch_WatchServer) *streamWatch {
	id := watcher.ID(req.WatchId)
	if id == 0 {
		id = watcher.ID(watchIDSeq.Add(1))
	}

	kr := keyrange.Range{Start: req.Key, End: req.RangeEnd}
	filters := watcher.Filters(filterExclusions(req.Filters)...)

	sw := &streamWatch{
		id:       id,
		deliver:  make(chan watcher.Response, deliveryBuffer),
		cancelCh: make(chan struct{}),
	}

	s.server.watchSub.Register(id, kr, req.StartRevision, filters, sw.deliver, sw.cancelCh)

	if err := stream.Send(&pb.WatchResponse{
		Header:  s.server.getResponseHeader(),
		WatchId: int64(id),
		Created: true,
	}); err != nil {
		log.Warnf("watch: failed to send create ack for watch %d: %v", id, err)
	}

	return sw
}

// pump forwards delivered batches to the stream until the watch is
// cancelled, either explicitly or by the subsystem giving up on a slow
// consumer.
func (s *WatchServer) pump(stream pb.Watch_WatchServer, sw *streamWatch) {
	for {
		select {
		case resp, ok := <-sw.deliver:
			if !ok {
				return
			}
			if err := stream.Send(responseToPb(s.server, resp)); err != nil {
				return
			}
		case <-sw.cancelCh:
			stream.Send(&pb.WatchResponse{
				Header:   s.server.getResponseHeader(),
				WatchId:  int64(sw.id),
				Canceled: true,
			})
			return
		}
	}
}

func filterExclusions(fs []pb.WatchCreateRequest_FilterType) []mvcc.EventType {
	var out []mvcc.EventType
	for _, f := range fs {
		switch f {
		case pb.WatchCreateRequest_NOPUT:
			out = append(out, mvcc.EventTypePut)
		case pb.WatchCreateRequest_NODELETE:
			out = append(out, mvcc.EventTypeDelete)
		}
	}
	return out
}

func responseToPb(s *Server, resp watcher.Response) *pb.WatchResponse {
	events := make([]*mvccpb.Event, len(resp.Events))
	for i, ev := range resp.Events {
		pbEvent := &mvccpb.Event{Kv: kvToPb(ev.Kv), PrevKv: kvToPb(ev.PrevKv)}
		if ev.Type == mvcc.EventTypeDelete {
			pbEvent.Type = mvccpb.DELETE
		} else {
			pbEvent.Type = mvccpb.PUT
		}
		events[i] = pbEvent
	}

	header := s.getResponseHeader()
	header.Revision = resp.Revision
	return &pb.WatchResponse{
		Header:  header,
		WatchId: int64(resp.WatchID),
		Events:  events,
	}
}
