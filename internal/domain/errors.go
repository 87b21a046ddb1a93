package domain

import "errors"

var (
	// ErrRemote — временная ошибка удалённой платформы (сеть, лимиты).
	ErrRemote = errors.New("удалённая платформа недоступна")
	// ErrAccountNotFound — аккаунта нет в хранилище.
	ErrAccountNotFound = errors.New("аккаунт не найден")
	// ErrSummaryNotFound — у аккаунта нет сводки.
	ErrSummaryNotFound = errors.New("сводка не найдена")
	// ErrDocumentNotFound — у аккаунта нет документа.
	ErrDocumentNotFound = errors.New("документ не найден")
	// ErrFingerprintConflict — сводку заменил другой писатель.
	ErrFingerprintConflict = errors.New("отпечаток сводки изменился")
	// ErrInterrupted — запуск прерван пользователем на границе транзакции.
	ErrInterrupted = errors.New("запуск прерван")
)
