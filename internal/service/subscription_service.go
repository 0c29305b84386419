package service

import (
	"context"
	"errors"
	"fmt"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/pkg/apperror"
)

type SubscriptionService struct {
	userRepo repository.UserRepository
	subRepo  repository.SubscriptionRepository
}

func NewSubscriptionService(userRepo repository.UserRepository, subRepo repository.SubscriptionRepository) *SubscriptionService {
	return &SubscriptionService{
		userRepo: userRepo,
		subRepo:  subRepo,
	}
}

func (s *SubscriptionService) ChannelProfile(ctx context.Context, viewerID, username string) (*domain.ChannelProfile, error) {
	channel, err := s.findChannel(ctx, username)
	if err != nil {
		return nil, err
	}

	subscribers, err := s.subRepo.CountSubscribers(ctx, channel.ID)
	if err != nil {
		return nil, apperror.Internal("failed to count subscribers", err)
	}

	subscribedTo, err := s.subRepo.CountSubscriptions(ctx, channel.ID)
	if err != nil {
		return nil, apperror.Internal("failed to count subscriptions", err)
	}

	isSubscribed := false
	if viewerID != "" {
		isSubscribed, err = s.subRepo.IsSubscribed(ctx, viewerID, channel.ID)
		if err != nil {
			return nil, apperror.Internal("failed to check subscription", err)
		}
	}

	return &domain.ChannelProfile{
		ID:                        channel.ID,
		Username:                  channel.Username,
		FullName:                  channel.FullName,
		Avatar:                    channel.Avatar,
		CoverImage:                channel.CoverImage,
		SubscribersCount:          subscribers,
		ChannelsSubscribedToCount: subscribedTo,
		IsSubscribed:              isSubscribed,
	}, nil
}

func (s *SubscriptionService) Subscribe(ctx context.Context, subscriberID, username string) error {
	channel, err := s.findChannel(ctx, username)
	if err != nil {
		return err
	}

	if channel.ID == subscriberID {
		return apperror.Validation("cannot subscribe to your own channel")
	}

	if err := s.subRepo.Subscribe(ctx, subscriberID, channel.ID); err != nil {
		return apperror.Internal("failed to subscribe", err)
	}
	return nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, subscriberID, username string) error {
	channel, err := s.findChannel(ctx, username)
	if err != nil {
		return err
	}

	if err := s.subRepo.Unsubscribe(ctx, subscriberID, channel.ID); err != nil {
		return apperror.Internal("failed to unsubscribe", err)
	}
	return nil
}

// ListSubscribedChannels returns the channels subscriberID follows. Channels
// deleted since the subscription was made are skipped.
func (s *SubscriptionService) ListSubscribedChannels(ctx context.Context, subscriberID string) ([]*domain.ChannelSummary, error) {
	subs, err := s.subRepo.ListBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, apperror.Internal("failed to list subscriptions", err)
	}

	channels := make([]*domain.ChannelSummary, 0, len(subs))
	for _, sub := range subs {
		channel, err := s.userRepo.FindByID(ctx, sub.ChannelID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				continue
			}
			return nil, apperror.Internal(fmt.Sprintf("failed to load channel %s", sub.ChannelID), err)
		}
		channels = append(channels, &domain.ChannelSummary{
			ID:       channel.ID,
			Username: channel.Username,
			FullName: channel.FullName,
			Avatar:   channel.Avatar,
		})
	}

	return channels, nil
}

func (s *SubscriptionService) findChannel(ctx context.Context, username string) (*domain.User, error) {
	username = domain.NormalizeUsername(username)
	if username == "" {
		return nil, apperror.Validation("username is missing")
	}

	channel, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.NotFound("channel does not exist")
		}
		return nil, apperror.Internal("failed to look up channel", err)
	}
	return channel, nil
}
