package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/chatpongdeepet/iot-shop/internal/domain"
	"github.com/chatpongdeepet/iot-shop/internal/repo"
)

const maxListedOrders = 50

type OrderService interface {
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)
	GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error)
}

type orderService struct {
	orderRepo repo.OrderRepo
}

func NewOrderService(orderRepo repo.OrderRepo) OrderService {
	return &orderService{orderRepo: orderRepo}
}

func (s *orderService) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID, maxListedOrders)
}

// GetOrder hides orders of other users behind ErrOrderNotFound.
func (s *orderService) GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
