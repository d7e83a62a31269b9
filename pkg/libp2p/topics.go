package libp2p

import (
	"context"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"
)

// ErrNoPeers is returned by Publish when nobody else is subscribed.
var ErrNoPeers = errors.New("no peers subscribed to topic")

type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// Subscribe joins a gossipsub topic. Subscribing twice is a no-op.
func (n *Node) Subscribe(name string) error {
	n.joinedTopicsMux.Lock()
	defer n.joinedTopicsMux.Unlock()

	if _, ok := n.joinedTopics[name]; ok {
		return nil
	}

	topic, err := n.pubsub.Join(name)
	if err != nil {
		return fmt.Errorf("failed to join topic %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", name, err)
	}

	n.joinedTopics[name] = &joinedTopic{topic: topic, sub: sub}
	go n.readTopic(name, sub)

	n.log.Info("subscribed to topic", zap.String("topic", name))
	return nil
}

// Publish sends data to everyone subscribed to the topic. It fails with
// ErrNoPeers when no subscriber is known. A nil error only means the message
// was handed to gossipsub: right after a subscriber appears the mesh may not
// be formed yet and the message can reach nobody.
func (n *Node) Publish(ctx context.Context, name string, data []byte) error {
	n.joinedTopicsMux.RLock()
	joined, ok := n.joinedTopics[name]
	n.joinedTopicsMux.RUnlock()

	if !ok {
		return fmt.Errorf("not subscribed to topic %s", name)
	}
	if len(joined.topic.ListPeers()) == 0 {
		return ErrNoPeers
	}
	return joined.topic.Publish(ctx, data)
}

// TopicPeers counts the peers we know to be subscribed to the topic.
func (n *Node) TopicPeers(name string) int {
	n.joinedTopicsMux.RLock()
	defer n.joinedTopicsMux.RUnlock()
	joined, ok := n.joinedTopics[name]
	if !ok {
		return 0
	}
	return len(joined.topic.ListPeers())
}

func (n *Node) readTopic(name string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.emit(TopicMessage{Topic: name, From: msg.GetFrom(), Data: msg.Data})
	}
}
