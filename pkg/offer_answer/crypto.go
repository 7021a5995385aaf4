package offer_answer

import "github.com/arzzra/soft_call/pkg/media_desc"

// MatchCryptoSuite выбирает общий SDES крипто-набор из локального и удаленного
// списков предложений.
//
// Предложения удаленной стороны перебираются в порядке, в котором они были
// предложены; для каждого ищется локальное предложение с тем же алгоритмом.
// Роль меняет состав результата:
//   - preferLocalKey == true (мы отвечаем на offer): результат несет наш
//     мастер-ключ и тег удаленной стороны; localTag сообщает, какое локальное
//     предложение было использовано;
//   - preferLocalKey == false (мы читаем answer на свой offer): результат несет
//     мастер-ключ удаленной стороны и наш собственный тег.
//
// Отсутствие пересечения алгоритмов — провал: вызывающая сторона обязана
// отклонить поток (RTPPort = 0), тихое понижение до нешифрованного RTP
// недопустимо.
func MatchCryptoSuite(local, remote []media_desc.CryptoSuiteProposal, preferLocalKey bool) (selected media_desc.CryptoSuiteProposal, localTag int, ok bool) {
	for _, r := range remote {
		for _, l := range local {
			if l.Algo != r.Algo {
				continue
			}
			if preferLocalKey {
				return media_desc.CryptoSuiteProposal{
					Tag:       r.Tag,
					Algo:      l.Algo,
					MasterKey: l.MasterKey,
				}, l.Tag, true
			}
			return media_desc.CryptoSuiteProposal{
				Tag:       l.Tag,
				Algo:      l.Algo,
				MasterKey: r.MasterKey,
			}, l.Tag, true
		}
	}
	return media_desc.CryptoSuiteProposal{}, 0, false
}
